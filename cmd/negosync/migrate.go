package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memohai/negosync/db"
	"github.com/memohai/negosync/internal/cache"
	"github.com/memohai/negosync/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version|force N]",
	Short: "Manage the local cache schema",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMigrate,
}

func runMigrate(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.Cache.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache dir: %w", err)
		}
	}
	return cache.RunMigrate(logger.L, cfg.Cache.Path, db.MigrationsFS, db.MigrationsDir, args[0], args[1:])
}
