package main

import (
	"log/slog"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/blogpress/authguard/internal/db"
)

// Applies schema migrations and exits. The server also migrates on startup;
// this exists for pipelines that migrate before rolling instances.
func main() {
	_ = godotenv.Load()

	var cfg db.Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	if err := db.RunMigrations(cfg); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}
