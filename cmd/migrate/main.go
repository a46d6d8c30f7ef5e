// Command migrate applies the embedded schema migrations to DATABASE_URL.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/archon-research/p2pwatch/db/migrations"
	"github.com/archon-research/p2pwatch/db/migrator"
	"github.com/archon-research/p2pwatch/internal/adapters/outbound/postgres"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		logger.Error("required environment variable not set", "key", "DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(connStr))
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)
	if err := m.ApplyAll(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("all migrations up to date")
}
