package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/ridex/internal/server"
	"github.com/desertthunder/ridex/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the ride server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.config.Server
	if host := cmd.String("host"); host != "" {
		config.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		config.Port = port
	}
	if cmd.Bool("no-persist") {
		config.Persist = false
	}

	logger := shared.WithLogger(r.logger, "component", "server")

	var recorder server.Recorder
	if config.Persist {
		db, err := r.openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		recorder = server.NewDBRecorder(db, logger)
		logger.Info("persisting rides", "database", r.config.Database.Path)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(config, recorder, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("ride server: %w", err)
	}
	return nil
}
