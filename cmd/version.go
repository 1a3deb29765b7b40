package cmd

import (
	"fmt"
	"runtime"

	"github.com/jmsr-app/jmsr/constant"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the application version and build platform.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the application version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s (%s/%s)\n", constant.Jmsr, constant.Version, runtime.GOOS, runtime.GOARCH)
	},
}
