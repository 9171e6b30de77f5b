package repositories

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/ridex/internal/models"
)

// TrackRepository stores the location history of a ride. Points are append-only.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Append records a point and sets its ID. A zero RecordedAt is stamped with the current time.
func (r *TrackRepository) Append(p *models.TrackPoint) error {
	if p.SessionID == "" || p.RideID == "" {
		return fmt.Errorf("validation failed: track point needs a session and a ride")
	}
	if !p.Location.Valid() {
		return fmt.Errorf("validation failed: location out of range: %s", p.Location)
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}

	var accuracy sql.NullFloat64
	if p.Location.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *p.Location.Accuracy, Valid: true}
	}

	query := `
		INSERT INTO track_points (session_id, ride_id, lat, lng, accuracy, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query, p.SessionID, p.RideID, p.Location.Lat, p.Location.Lng, accuracy, p.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert track point: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get track point id: %w", err)
	}
	p.ID = id
	return nil
}

// ListByRide returns a ride's points in arrival order. A positive limit keeps only the most recent points.
func (r *TrackRepository) ListByRide(rideID string, limit int) ([]models.TrackPoint, error) {
	query := `
		SELECT t.id, t.session_id, t.ride_id, s.username, t.lat, t.lng, t.accuracy, t.recorded_at
		FROM track_points t
		JOIN sessions s ON s.id = t.session_id
		WHERE t.ride_id = ?
		ORDER BY t.id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	points, err := r.query(query, rideID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(points)
	return points, nil
}

// ListBySession returns one session's points in arrival order.
func (r *TrackRepository) ListBySession(sessionID string) ([]models.TrackPoint, error) {
	query := `
		SELECT t.id, t.session_id, t.ride_id, s.username, t.lat, t.lng, t.accuracy, t.recorded_at
		FROM track_points t
		JOIN sessions s ON s.id = t.session_id
		WHERE t.session_id = ?
		ORDER BY t.id ASC
	`
	return r.query(query, sessionID)
}

func (r *TrackRepository) query(query string, args ...any) ([]models.TrackPoint, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query track points: %w", err)
	}
	defer rows.Close()

	var points []models.TrackPoint
	for rows.Next() {
		var (
			p        models.TrackPoint
			accuracy sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.RideID, &p.Username, &p.Location.Lat, &p.Location.Lng, &accuracy, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		if accuracy.Valid {
			a := accuracy.Float64
			p.Location.Accuracy = &a
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return points, nil
}
