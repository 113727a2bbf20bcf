package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"geotrail/syncd/internal/app"
	"geotrail/syncd/internal/config"
	"geotrail/syncd/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Offline-first location capture and sync daemon",
	Long: `syncd queues location samples locally, filters them by time, distance and
accuracy, and drains them to the remote timeline service when connectivity allows.
Point edits and deletes are applied locally first and synced in the background.

Settings come from defaults, an optional YAML file (--config) and SYNCD_*
environment variables, e.g. SYNCD_REMOTE_BASE_URL or SYNCD_DATABASE_DSN.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration, starts logging and builds the app. The returned
// cleanup closes both.
func bootstrap(ctx context.Context) (*app.App, func(), error) {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Init(logging.Options{
		AppEnv:     cfg.AppEnv,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logging.Info("syncd starting up",
		"environment", cfg.AppEnv,
		"config", v.ConfigFileUsed(),
		"timestamp", time.Now().Format(time.RFC3339),
	)

	a, err := app.New(ctx, cfg, watchable(v))
	if err != nil {
		logging.Close()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logging.Warn("Failed to close stores cleanly", "error", err)
		}
		logging.Close()
	}, nil
}

// watchable returns v only when a config file backs it, since there is nothing to watch otherwise.
func watchable(v *viper.Viper) *viper.Viper {
	if v.ConfigFileUsed() == "" {
		return nil
	}
	return v
}
