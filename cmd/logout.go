package cmd

import (
	"fmt"

	"github.com/jmsr-app/jmsr/color"
	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/style"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

// logoutCmd clears the saved server session and its stored token.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved server session and its access token",
	Run: func(cmd *cobra.Command, args []string) {
		handleErr(jellyfin.ClearSession())
		fmt.Printf("%s session cleared\n", style.Fg(color.Green)("✓"))
	},
}
