// meshlinkd runs one mesh node's communication substrate: the broker
// uplink, inbound control handling, routing-table sync and the periodic
// sensor, announce and graph producers.
//
// Configuration is read from -config, MESHLINK_CONFIG, or
// configs/config.yaml, in that order.
//
// -migrate status lists applied and pending schema migrations; -migrate down
// rolls back the most recent one. Both exit without starting the node.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/database"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/node"
	"github.com/nerrad567/meshlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// stdout receives -migrate output.
var stdout io.Writer = os.Stdout

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("meshlinkd", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to the YAML configuration file")
	migrateFlag := fs.String("migrate", "", "run a schema command (status or down) and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *migrateFlag != "" && *migrateFlag != "status" && *migrateFlag != "down" {
		return fmt.Errorf("unknown -migrate command %q (want status or down)", *migrateFlag)
	}

	log := logging.Default()
	log.Info("starting meshlinkd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"mesh_id", cfg.Mesh.ID,
		"level", cfg.Logging.Level,
	)

	if *migrateFlag != "" {
		return runMigrate(ctx, cfg.Database, *migrateFlag)
	}

	n, err := node.New(ctx, cfg, log, version)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer func() {
		if closeErr := n.Close(); closeErr != nil {
			log.Error("error closing node", "error", closeErr)
		}
	}()

	if err := n.Run(ctx); err != nil {
		return err
	}
	log.Info("meshlinkd stopped")
	return nil
}

// runMigrate executes a -migrate command against the configured database.
func runMigrate(ctx context.Context, cfg config.DatabaseConfig, command string) error {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	if command == "down" {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(stdout, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(stdout, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// getConfigPath prefers the flag, then MESHLINK_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("MESHLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
