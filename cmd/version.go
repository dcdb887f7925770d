package cmd

import (
	"github.com/praetorian-inc/entrascope/internal/message"
	"github.com/praetorian-inc/entrascope/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Entrascope",
	Run: func(cmd *cobra.Command, args []string) {
		message.Info(version.FullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
