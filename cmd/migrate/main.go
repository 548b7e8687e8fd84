// Package main は user テーブルのマイグレーションを実行するコマンドです。
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate -driver pgx -dsn postgres://... status
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/yourusername/blogme/internal/config"
	"github.com/yourusername/blogme/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	driver := flag.String("driver", cfg.DatabaseDriver, "database driver (sqlite or pgx)")
	dsn := flag.String("dsn", cfg.DatabaseURL, "database DSN")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] up|down|status\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	if err := run(context.Background(), storage.Dialect(*driver), *dsn, command, logger); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dialect storage.Dialect, dsn, command string, logger *slog.Logger) error {
	var action func(context.Context, *sql.DB, storage.Dialect, *slog.Logger) error
	switch command {
	case "up":
		action = storage.Migrate
	case "down":
		action = storage.Rollback
	case "status":
		action = storage.Status
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	db, err := storage.Open(ctx, dialect, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return action(ctx, db, dialect, logger)
}
