package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("KEYSTONE_CONFIG"), "Path to YAML config file")
	dryRun := flag.Bool("dry-run", false, "List pending migrations without applying them")
	only := flag.Int("only", 0, "Apply just this migration version")
	flag.Parse()

	if err := run(*configPath, postgres.ApplyOptions{DryRun: *dryRun, Only: *only}); err != nil {
		fmt.Fprintf(os.Stderr, "keystone-migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, opts postgres.ApplyOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Type != config.StorePostgres {
		return fmt.Errorf("migrations need database.type %q, got %q", config.StorePostgres, cfg.Database.Type)
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	db, err := postgres.Open(postgres.ConnectionConfig{
		URL:      cfg.Database.PostgresURL,
		MaxConns: 1,
		MinConns: 1,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := postgres.RunMigrations(context.Background(), db, logger, opts)
	if err != nil {
		return err
	}

	verb := "Applied"
	if opts.DryRun {
		verb = "Pending"
	}
	for _, m := range applied {
		fmt.Printf("%s %03d %s\n", verb, m.Version, m.Description)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
	}
	return nil
}
