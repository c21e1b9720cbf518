package main

import (
	"fmt"
	"os"

	"github.com/artpar/plume/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration valid")
		fmt.Printf("  Listen:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Storage: %s\n", cfg.Database.Driver)
		fmt.Printf("  Logging: %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
