// Package cmd implements the command-line interface for the jmsr cast receiver.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmsr-app/jmsr/color"
	"github.com/jmsr-app/jmsr/constant"
	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/mpv"
	"github.com/jmsr-app/jmsr/notify"
	"github.com/jmsr-app/jmsr/prefs"
	"github.com/jmsr-app/jmsr/session"
	"github.com/jmsr-app/jmsr/style"
	"github.com/jmsr-app/jmsr/where"
	cc "github.com/ivanpirog/coloredcobra"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print the application version")

	rootCmd.PersistentFlags().StringP("device-name", "n", "", "Display name shown in the server's cast menu")
	lo.Must0(viper.BindPFlag(key.DeviceName, rootCmd.PersistentFlags().Lookup("device-name")))

	rootCmd.PersistentFlags().String("player-path", "", "Absolute path to the mpv executable")
	lo.Must0(viper.BindPFlag(key.PlayerPath, rootCmd.PersistentFlags().Lookup("player-path")))

	// Clear leftover transient artifacts from previous runs.
	go func() {
		_ = os.RemoveAll(where.Temp())
	}()
}

// rootCmd runs the cast receiver until interrupted.
var rootCmd = &cobra.Command{
	Use:   constant.Jmsr,
	Short: "A cast receiver that plays your media server's content through mpv",
	Long: "jmsr registers itself with your media server as a remotely controllable\n" +
		"playback device and drives a local mpv process on its behalf: cast from any\n" +
		"client and the video opens on this machine, with your own mpv configuration,\n" +
		"shaders and scripts untouched.",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("version") {
			versionCmd.Run(versionCmd, args)
			return
		}

		handleErr(runReceiver())
	},
}

// runReceiver wires the subsystems together and blocks until a signal.
func runReceiver() error {
	saved, token, err := jellyfin.LoadSession()
	if err != nil {
		if err == jellyfin.ErrNoSavedSession {
			return fmt.Errorf("no saved session; run %q first", constant.Jmsr+" login")
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := jellyfin.NewClient()
	if err := client.Restore(ctx, saved, token); err != nil {
		return err
	}
	fmt.Printf("%s connected to %s as %s\n",
		style.Fg(color.Green)("✓"),
		style.Bold(saved.ServerName),
		style.Fg(color.Cyan)(saved.UserName),
	)

	bus := notify.NewBus()
	go printNotices(ctx, bus.Subscribe(16))

	store, err := prefs.Open()
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}

	player := mpv.NewPlayer()
	manager := session.New(client, player, bus, store)

	link := jellyfin.NewLink(client)
	link.OnConnect = func() {
		if err := client.ReportCapabilities(ctx); err != nil {
			log.Errorf("capabilities registration failed: %v", err)
			bus.Publish(notify.Error, "Failed to register as cast target: %v", err)
			return
		}
		bus.Publish(notify.Success, "Connected to %s", saved.ServerName)
	}
	link.OnDisconnect = func() {
		manager.ClearPlayback()
		bus.Publish(notify.Warning, "Connection to %s lost, reconnecting...", saved.ServerName)
	}

	go link.Run(ctx)
	manager.Run(ctx, link.Directives())

	// Shutdown: the player may outlive a crash but not an orderly exit.
	_ = player.Quit()
	if err := store.Flush(); err != nil {
		log.Errorf("preference flush failed: %v", err)
	}

	return nil
}

// printNotices renders bus notices on the terminal.
func printNotices(ctx context.Context, notices <-chan notify.Notice) {
	marks := map[notify.Level]string{
		notify.Info:    style.Fg(color.Blue)("i"),
		notify.Success: style.Fg(color.Green)("✓"),
		notify.Warning: style.Fg(color.Yellow)("!"),
		notify.Error:   style.Fg(color.Red)("✗"),
	}

	for {
		select {
		case <-ctx.Done():
			return
		case notice := <-notices:
			fmt.Printf("%s %s\n", marks[notice.Level], notice.Message)
		}
	}
}

// Execute initializes child command routing and processes the CLI entry point.
func Execute() {
	if viper.GetBool(key.CliColored) {
		cc.Init(&cc.Config{
			RootCmd:       rootCmd,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Commands:      cc.HiYellow + cc.Bold,
			Example:       cc.Italic,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func handleErr(err error) {
	if err != nil {
		log.Error(err)
		_, _ = fmt.Fprintf(os.Stderr, "%s %s\n", style.Fg(color.Red)("✗"), strings.Trim(err.Error(), " \n"))
		os.Exit(1)
	}
}
