package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bdobrica/Rinko/common/environment"
	"github.com/bdobrica/Rinko/common/version"
	"github.com/bdobrica/Rinko/internal/rinko/app"
)

func main() {
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)
	logger.Info("Rinko media assistant",
		"version", version.Version,
		"commit", version.GitCommit,
		"build_time", version.BuildTime,
	)

	v, err := newViper()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("config file loaded", "path", f)
	}

	config, err := loadConfig(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	config.Logger = logger

	rinko, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Rinko: %v\n", err)
		os.Exit(1)
	}
	defer rinko.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rinko.Run(ctx); err != nil {
		logger.Error("Rinko stopped with an error", "err", err)
		rinko.Close()
		os.Exit(1)
	}
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
// (text or json).
func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: environment.LevelOr("LOG_LEVEL", slog.LevelInfo)}
	if strings.EqualFold(environment.StringOr("LOG_FORMAT", "text"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
