package main

import (
	"fmt"
	"os"

	"github.com/artpar/plume/bootstrap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the plume server.

The server will:
  - Load configuration from plume.yaml (or --config), falling back to
    PLUME_* environment variables and defaults
  - Open the record store (in-memory or sqlite)
  - Serve the REST transport and the WebSocket transport on one port
  - Watch the config file and SIGHUP for hot reload

Environment variables:
  PLUME_SERVER_PORT       - Server port (default: 3030)
  PLUME_DATABASE_DRIVER   - Storage driver: memory or sqlite
  PLUME_DATABASE_DSN      - Database path for the sqlite driver
  PLUME_AUTH_SECRET       - Token signing secret
  PLUME_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  plume serve
  plume serve --config /etc/plume/config.yaml
  PLUME_DATABASE_DRIVER=sqlite plume serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Println("No config file found, running with environment variables and defaults")
	}

	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
