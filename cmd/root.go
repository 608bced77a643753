package cmd

import (
	"context"
	"os"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/pkg/logger"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd runs the HTTP server when called without a subcommand
var rootCmd = &cobra.Command{
	Use:          "mediawhisperer",
	Short:        "PDF ingestion and conversation backend",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	rootCmd.AddCommand(serveCmd, ingestCmd)
}

// loadConfig reads the configuration and initializes the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, nil
}
