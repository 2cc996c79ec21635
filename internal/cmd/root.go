// Package cmd implements the domesync CLI (spec.md §4.7 Serve Session,
// exposed as a process), grounded on jra3-linear-fuse's two cobra
// command trees: the plain persistent-flag style of internal/cmd, and
// the viper-bound config layering of cmd/linear-fuse/commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "domesync",
	Short: "Sync a filesystem tree into a live instance graph",
	Long: `domesync watches a project directory and serves it as a live,
patchable instance tree over a long-poll session, the way a game engine's
external editor would consume a filesystem-backed project.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/domesync/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "always colorize log tags (adds no extra log output)")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/domesync")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("DOMESYNC")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}
