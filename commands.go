package main

import (
	"fmt"
	"strconv"

	"github.com/geotruth/engine/internal/config"
	"github.com/geotruth/engine/internal/spatial/sqlitestore"
)

// runMigrate handles the "migrate" subcommand against the offline
// reference database: up, down, status, and force <version>.
func runMigrate(cfg *config.EngineConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate up|down|status|force <version>")
	}

	store, err := sqlitestore.Open(cfg.GetOfflineDBPath())
	if err != nil {
		return fmt.Errorf("open reference database: %w", err)
	}
	defer store.Close()

	dir := cfg.GetMigrationsDir()
	switch args[0] {
	case "up":
		if err := store.MigrateUp(dir); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		if err := store.MigrateDown(dir); err != nil {
			return err
		}
		fmt.Println("rolled back one migration")
	case "status":
		version, dirty, err := store.MigrateVersion(dir)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := store.MigrateForce(dir, version); err != nil {
			return err
		}
		fmt.Printf("forced version to %d\n", version)
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	return nil
}
