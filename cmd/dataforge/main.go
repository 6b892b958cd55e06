package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/config"
	"github.com/rpattn/dataforge/internal/logging"
)

var (
	// Global flags
	configDir string
	verbose   bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dataforge",
	Short: "Reconcile survey coordinates and produce a transformation log",
	Long: `dataforge ingests CSV, XLSX and JSON survey exports, normalizes latitude and
longitude, converts projected easting/northing to geographic coordinates,
fills URLs by island and records every decision in a transformation log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configDir)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Log.Development)
		if err != nil {
			return err
		}
		if cfg.Source != "" {
			logger.Debug("config loaded", zap.String("path", cfg.Source))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transformCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
