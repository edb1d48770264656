//go:build ignore

// Command migrate applies the numbered SQL files under migrations/.
//
//	go run scripts/migrate.go up|status|seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"commentflow/internal/config"
	"commentflow/internal/logger"
	"commentflow/internal/migrate"
)

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command != "up" && command != "status" && command != "seed" {
		fmt.Fprintln(os.Stderr, "usage: go run scripts/migrate.go [up|status|seed]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Dir, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, "migrations", "migrations/seed", log)
	if err := runner.EnsureTable(ctx); err != nil {
		log.Fatalw("failed to prepare schema_migrations", "error", err)
	}

	switch command {
	case "up":
		n, err := runner.Up(ctx)
		if err != nil {
			log.Fatalw("migration failed", "applied", n, "error", err)
		}
		log.Infow("schema up to date", "applied", n)
	case "status":
		all, err := runner.Status(ctx)
		if err != nil {
			log.Fatalw("failed to read migration status", "error", err)
		}
		for _, m := range all {
			log.Infow("migration", "version", m.Version, "name", m.Name, "applied", m.Applied, "applied_at", m.AppliedAt)
		}
	case "seed":
		n, err := runner.Seed(ctx)
		if err != nil {
			log.Fatalw("seed failed", "applied", n, "error", err)
		}
		log.Infow("seeds applied", "count", n)
	}
}
