package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/channel"
	"github.com/desertthunder/ridex/internal/formatter"
	"github.com/desertthunder/ridex/internal/geo"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/repositories"
	"github.com/desertthunder/ridex/internal/shared"
	"github.com/desertthunder/ridex/internal/tasks"
	"github.com/desertthunder/ridex/internal/tracker"
	"github.com/mdp/qrterminal/v3"
	"github.com/urfave/cli/v3"
)

// newTracker wires a tracker from the client and geolocation config.
//
// A map provider that cannot load is replaced by the none map.
func (r *Runner) newTracker(ctx context.Context, notify func(tracker.Notification), onChange func()) (*tracker.Tracker, error) {
	api := r.rideAPI(ctx)
	logger := shared.WithLogger(r.logger, "component", "tracker")

	// a failed bootstrap is logged there and still yields the none map
	adapter, _ := tracker.Bootstrap(ctx, api, r.config.Client.MapProvider, logger)

	source, err := geo.NewSource(r.config.Geolocation)
	if err != nil {
		return nil, err
	}

	dialer := channel.WSDialer{}
	if token := r.config.Client.AccessToken; token != "" {
		dialer.Header = http.Header{"Authorization": {"Bearer " + token}}
	}

	return tracker.New(tracker.Options{
		API:             api,
		Map:             adapter,
		Source:          source,
		Policy:          geo.PolicyFromConfig(r.config.Geolocation),
		Dialer:          dialer,
		ReconnectDelay:  r.config.Client.ReconnectDelay.Duration,
		MapReadyTimeout: r.config.Client.MapReadyTimeout.Duration,
		Logger:          logger,
		Notify:          notify,
		OnChange:        onChange,
	}), nil
}

// logNotification writes a tracker notification at its level.
func logNotification(logger *log.Logger, n tracker.Notification) {
	switch n.Level {
	case tracker.LevelError:
		logger.Error(n.Text)
	case tracker.LevelWarn:
		logger.Warn(n.Text)
	default:
		logger.Info(n.Text)
	}
}

// RideTrack logs in with action and shares the local position until interrupted or the session ends.
func (r *Runner) RideTrack(action models.Action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		username := cmd.String("username")
		if username == "" {
			username = r.config.Client.Username
		}

		var rideID string
		if action == models.ActionJoin {
			rideID = cmd.String("ride-id")
			if link := cmd.String("link"); link != "" {
				code, ok := shared.ParseJoinLink(link)
				if !ok {
					return fmt.Errorf("%w: no ride in link %q", shared.ErrInvalidArgument, link)
				}
				rideID = code
			}
			if rideID == "" {
				return fmt.Errorf("%w: --ride-id or --link", shared.ErrMissingArgument)
			}
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		var once sync.Once
		ended := make(chan struct{})
		notify := func(n tracker.Notification) {
			logNotification(r.logger, n)
			if n.Text == tracker.NoticeSessionExpired {
				once.Do(func() { close(ended) })
			}
		}

		t, err := r.newTracker(ctx, notify, nil)
		if err != nil {
			return err
		}

		session, err := t.Login(ctx, username, string(action), rideID)
		if err != nil {
			return err
		}
		if err := t.Start(ctx); err != nil {
			t.Logout(true)
			t.Wait()
			return err
		}

		r.writePlainHeader(fmt.Sprintf("Ride %s as %s", session.RideID, session.Username))
		if session.IsAdmin {
			link := shared.JoinLink(r.rideAPI(ctx).BaseURL(), session.RideID)
			r.writePlain("Share this link to invite riders:\n%s\n\n", link)
			if !cmd.Bool("no-qr") {
				qrterminal.GenerateHalfBlock(link, qrterminal.L, r.output)
			}
		}

		every := cmd.Duration("every")
		if every <= 0 {
			every = 10 * time.Second
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("leaving ride", "ride", session.RideID)
				t.Logout(true)
				t.Wait()
				return nil
			case <-ended:
				return shared.ErrSessionExpired
			case <-ticker.C:
				data, err := formatter.RosterToText(&formatter.RosterExport{RideID: session.RideID, Riders: t.Riders()})
				if err != nil {
					return err
				}
				r.writePlain("\n%s(channel %s)\n", data, t.ChannelState())
			}
		}
	}
}

// RideUsers prints the riders of one ride, or of every live ride.
func (r *Runner) RideUsers(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	rideID := normalizeRideID(cmd.String("ride-id"))
	api := r.rideAPI(ctx)

	var riders []models.Rider
	label := rideID
	if rideID == "" {
		label = "all"
		riders, err = api.AllUsers(ctx)
	} else {
		riders, err = api.RideUsers(ctx, rideID)
	}
	if err != nil {
		return err
	}

	data, err := formatter.Roster(&formatter.RosterExport{RideID: label, Riders: riders}, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// RideHistory prints or writes the recorded positions of a ride.
func (r *Runner) RideHistory(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	rideID := normalizeRideID(cmd.String("ride-id"))
	limit := cmd.Int("limit")

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := repositories.NewRideRepository(db).Get(rideID); err != nil {
		return err
	}

	tracks := repositories.NewTrackRepository(db)
	var points []models.TrackPoint
	if sessionID := cmd.String("session-id"); sessionID != "" {
		points, err = tracks.ListBySession(sessionID)
		if limit > 0 && len(points) > limit {
			points = points[len(points)-limit:]
		}
	} else {
		points, err = tracks.ListByRide(rideID, limit)
	}
	if err != nil {
		return err
	}

	export := &formatter.TrackExport{RideID: rideID, Points: points}

	if output := cmd.String("output"); output != "" {
		if output == "-" {
			output = ""
		}
		path, err := formatter.WriteTrackExport(export, format, output)
		if err != nil {
			return err
		}
		r.logger.Info("history exported", "ride", rideID, "points", len(points), "path", path)
		return r.writePlain("✓ History written to %s\n", path)
	}

	data, err := formatter.Track(export, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// RideExport writes the histories of many rides to a directory with a manifest.
func (r *Runner) RideExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	var ids []string
	for _, id := range cmd.StringSlice("ride-id") {
		ids = append(ids, normalizeRideID(id))
	}
	if len(ids) == 0 {
		rides, err := repositories.NewRideRepository(db).List(nil)
		if err != nil {
			return err
		}
		for _, ride := range rides {
			ids = append(ids, ride.ID())
		}
	}
	if len(ids) == 0 {
		return r.writePlain("No rides recorded in %s\n", r.config.Database.Path)
	}

	engine := tasks.NewExportEngine(repositories.NewTrackRepository(db), r.logger)
	progress := make(chan tasks.ProgressUpdate, 2*len(ids)+1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Info(update.Message, "phase", update.Phase)
		}
	}()

	result, err := engine.BulkExport(ctx, progress, ids, tasks.BulkExportOpts{
		Format:     format,
		OutputDir:  cmd.String("dir"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainHeader("Export complete")
	r.writePlain("Rides:     %d (%d ok, %d failed)\n", result.TotalRides, result.SuccessfulExports, result.FailedExports)
	r.writePlain("Directory: %s\n", result.OutputDirectory)
	r.writePlain("Manifest:  %s\n", result.ManifestPath)
	return nil
}

func normalizeRideID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }
