package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jmsr-app/jmsr/color"
	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/style"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringP("server", "s", "", "Server URL (e.g. https://jellyfin.example.org)")
	loginCmd.Flags().StringP("username", "u", "", "User name")
}

// loginCmd authenticates against the media server and saves the session.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the media server and save the session",
	Run: func(cmd *cobra.Command, args []string) {
		serverURL, _ := cmd.Flags().GetString("server")
		username, _ := cmd.Flags().GetString("username")
		var password string

		var questions []*survey.Question
		if serverURL == "" {
			questions = append(questions, &survey.Question{
				Name: "server",
				Prompt: &survey.Input{
					Message: "Server URL:",
					Default: viper.GetString(key.ServerURL),
				},
				Validate: survey.Required,
			})
		}
		if username == "" {
			questions = append(questions, &survey.Question{
				Name:     "username",
				Prompt:   &survey.Input{Message: "User name:"},
				Validate: survey.Required,
			})
		}
		questions = append(questions, &survey.Question{
			Name:   "password",
			Prompt: &survey.Password{Message: "Password:"},
		})

		answers := struct {
			Server   string
			Username string
			Password string
		}{Server: serverURL, Username: username}

		handleErr(survey.Ask(questions, &answers))
		if answers.Server == "" {
			answers.Server = serverURL
		}
		if answers.Username == "" {
			answers.Username = username
		}
		password = answers.Password

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := jellyfin.NewClient()
		auth, err := client.Authenticate(ctx, answers.Server, answers.Username, password)
		handleErr(err)

		saved, token, _ := client.Session()
		handleErr(jellyfin.SaveSession(saved, token))

		// Remember the server for the next login prompt.
		viper.Set(key.ServerURL, saved.ServerURL)
		if err := viper.WriteConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				_ = viper.SafeWriteConfig()
			}
		}

		fmt.Printf("%s logged in as %s\n",
			style.Fg(color.Green)("✓"),
			style.Fg(color.Cyan)(auth.User.Name),
		)
	},
}
