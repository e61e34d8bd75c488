package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/systemshift/opdag/internal/cli"
	"github.com/systemshift/opdag/internal/config"
)

func main() {
	// The user config sets the level for anything logged before a command
	// loads the repository's config.
	cfg, err := config.Load(config.UserPath())
	if err != nil {
		log.Fatalf("opdag: %v", err)
	}
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	os.Exit(cli.Execute(cli.NewRootCommand(level)))
}
