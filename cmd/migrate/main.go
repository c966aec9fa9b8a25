// Migrate applies, reverts or inspects the embedded schema migrations against DATABASE_URL.
//
//	go run ./cmd/migrate                  # apply all pending
//	go run ./cmd/migrate -direction down  # revert all
//	go run ./cmd/migrate -steps -1        # revert one
//	go run ./cmd/migrate -version
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/config"
	"ledgerguard/backend/internal/db/migrate"
	"ledgerguard/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "up or down; ignored when -steps is set")
	steps := flag.Int("steps", 0, "move this many migrations (negative to revert)")
	version := flag.Bool("version", false, "print the applied version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	zlog := logger.Init(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = zlog.Sync() }()

	if cfg.DatabaseURL == "" {
		zlog.Fatal("DATABASE_URL is not set; create a .env from .env.example or export it")
	}

	switch {
	case *version:
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("migrate: version", zap.Error(err))
		}
		zlog.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	case *steps != 0:
		err := migrate.Steps(cfg.DatabaseURL, *steps)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			zlog.Fatal("migrate: steps", zap.Int("steps", *steps), zap.Error(err))
		}
		zlog.Info("migrated", zap.Int("steps", *steps))
	default:
		dir, err := migrate.ParseDirection(*direction)
		if err != nil {
			zlog.Fatal("migrate: flags", zap.Error(err))
		}
		if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
			zlog.Fatal("migrate", zap.String("direction", string(dir)), zap.Error(err))
		}
		zlog.Info("migrated", zap.String("direction", string(dir)))
	}
}
