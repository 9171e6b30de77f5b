package server

import (
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/repositories"
)

// Recorder persists ride activity. Implementations log their own failures; the hub never waits on storage.
type Recorder interface {
	RideCreated(s models.Session)
	SessionStarted(s models.Session)
	SessionEnded(sessionID string)
	LocationReported(s models.Session, loc models.Location, at time.Time)
}

// DBRecorder writes through to the sqlite repositories.
type DBRecorder struct {
	rides    *repositories.RideRepository
	sessions *repositories.SessionRepository
	tracks   *repositories.TrackRepository
	logger   *log.Logger
}

// NewDBRecorder creates a [DBRecorder] over db, which must be migrated.
func NewDBRecorder(db *sql.DB, logger *log.Logger) *DBRecorder {
	return &DBRecorder{
		rides:    repositories.NewRideRepository(db),
		sessions: repositories.NewSessionRepository(db),
		tracks:   repositories.NewTrackRepository(db),
		logger:   logger,
	}
}

func (d *DBRecorder) RideCreated(s models.Session) {
	if err := d.rides.Create(models.NewRideRecord(s.RideID, s.SessionID)); err != nil {
		d.logger.Error("failed to record ride", "ride_id", s.RideID, "error", err)
	}
}

func (d *DBRecorder) SessionStarted(s models.Session) {
	if err := d.sessions.Create(models.NewSessionRecord(s)); err != nil {
		d.logger.Error("failed to record session", "session_id", s.SessionID, "error", err)
	}
}

func (d *DBRecorder) SessionEnded(sessionID string) {
	if err := d.sessions.Delete(sessionID); err != nil {
		d.logger.Error("failed to end session", "session_id", sessionID, "error", err)
	}
}

func (d *DBRecorder) LocationReported(s models.Session, loc models.Location, at time.Time) {
	p := &models.TrackPoint{SessionID: s.SessionID, RideID: s.RideID, Location: loc, RecordedAt: at}
	if err := d.tracks.Append(p); err != nil {
		d.logger.Warn("failed to record location", "session_id", s.SessionID, "error", err)
	}
}

// NopRecorder discards everything. Used when persistence is off.
type NopRecorder struct{}

func (NopRecorder) RideCreated(models.Session)                                  {}
func (NopRecorder) SessionStarted(models.Session)                               {}
func (NopRecorder) SessionEnded(string)                                         {}
func (NopRecorder) LocationReported(models.Session, models.Location, time.Time) {}
