package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ridex/internal/shared"
	"github.com/desertthunder/ridex/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive ride tracker.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	logPath := r.config.Client.LogFile
	if logPath == "" {
		logPath = "./tmp/ridex-tui.log"
	}
	fileLogger, err := shared.NewFileLogger(logPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	events := ui.NewEvents()
	t, err := r.newTracker(ctx, events.Notify, events.Changed)
	if err != nil {
		return err
	}

	username := cmd.String("username")
	if username == "" {
		username = r.config.Client.Username
	}
	rideID := cmd.String("ride-id")
	if link := cmd.String("link"); link != "" {
		rideID = link
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewModel(ctx, t, events, ui.Options{
		Username: username,
		RideID:   rideID,
		BaseURL:  r.rideAPI(ctx).BaseURL(),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	_, runErr := p.Run()
	t.Logout(true)
	t.Wait()
	if runErr != nil {
		return fmt.Errorf("error running TUI: %w", runErr)
	}

	return nil
}
