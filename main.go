package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"collab-sheets/app"
	"collab-sheets/pkg/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "collab-sheets",
		Short: "Collaborative spreadsheet sync server",
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr string
	var driver string
	var sqlitePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if driver != "" {
				cfg.StoreDriver = driver
			}
			if sqlitePath != "" {
				cfg.SQLitePath = sqlitePath
			}

			server, err := app.NewServer(cfg)
			if err != nil {
				return err
			}
			defer server.Close()
			return server.Start(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SERVER_HOST/SERVER_PORT)")
	cmd.Flags().StringVar(&driver, "driver", "", "store driver: postgres, sqlite or memory")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "path of the sqlite database file")
	return cmd
}
