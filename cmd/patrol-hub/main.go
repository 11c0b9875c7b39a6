package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"patrol-hub/config"
	"patrol-hub/core/appbootstrap"
	"patrol-hub/core/utils"
)

var version = "dev"

func main() {
	var configPath string
	var jsonLogs bool

	root := &cobra.Command{
		Use:           "patrol-hub",
		Short:         "Patrol incident notification and identity-sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to yaml config (env-only when omitted)")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON log lines instead of console output")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, tracker and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.NewLogger()
			if jsonLogs {
				logger = utils.NewJSONLogger()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return appbootstrap.Run(ctx, cfg, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serve, versionCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
