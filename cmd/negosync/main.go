package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/negosync/internal/config"
	"github.com/memohai/negosync/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "negosync",
	Short:         "Live negotiation notifications for shippers and carriers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = config.DefaultConfigPath
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the TOML config file")
	rootCmd.AddCommand(runCmd, recentCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "negosync: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and initializes the process logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
