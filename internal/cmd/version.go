package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jra3/domesync/internal/session"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("domesync %s (%s)\n", session.Version, session.GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
