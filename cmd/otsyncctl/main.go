// Command otsyncctl is the otsync operator CLI: it can run the server,
// apply database migrations standalone, or watch a live document as a
// reference client driving pkg/client's sync state machine over a real
// WebSocket connection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "otsyncctl",
	Short: "otsyncctl manages and exercises an otsync document-session server",
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.config/otsync/otsyncctl.toml)")
	rootCmd.PersistentFlags().String("sqlite-uri", "", "SQLite URI for the server/migrate commands")
	rootCmd.PersistentFlags().String("server", "ws://localhost:3030", "otsync server base URL, for the watch command")
	viper.BindPFlag("sqlite_uri", rootCmd.PersistentFlags().Lookup("sqlite-uri"))
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/otsync")
		}
		viper.SetConfigName("otsyncctl")
		viper.SetConfigType("toml")
	}

	viper.SetDefault("sqlite_uri", "")
	viper.SetDefault("server", "ws://localhost:3030")
	viper.SetEnvPrefix("OTSYNC")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig() // absence of a config file is fine; flags/env still apply
}
