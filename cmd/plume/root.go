package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "plume",
	Short: "Real-time service API with hooks and channel-based events",
	Long: `Plume serves resources as uniform services (find, get, create, update,
patch, remove) over REST and WebSocket, runs each call through a hook
pipeline, and fans mutation events out to connected clients through
channels.

Quick start:
  plume serve       # Start the server
  plume validate    # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "plume.yaml", "config file path")
}
