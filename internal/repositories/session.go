package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// SessionRepository implements models.Repository[*models.SessionRecord].
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, sequence, ride_id, username, is_admin, created_at, updated_at, deleted_at`

// Create inserts a session. A missing id is generated.
func (r *SessionRepository) Create(session *models.SessionRecord) error {
	if session.ID() == "" {
		session.SetID(shared.GenerateID())
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "sessions")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	session.SetSequence(sequence)

	query := `
		INSERT INTO sessions (id, sequence, ride_id, username, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		session.ID(),
		sequence,
		session.RideID(),
		session.Username(),
		session.IsAdmin(),
		session.CreatedAt(),
		session.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get retrieves a live session by id
func (r *SessionRepository) Get(id string) (*models.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? AND deleted_at IS NULL`

	session, err := scanSession(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	return session, err
}

// Update modifies the username and admin flag of a live session
func (r *SessionRepository) Update(session *models.SessionRecord) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	session.SetUpdatedAt(now)

	query := `
		UPDATE sessions
		SET username = ?, is_admin = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, session.Username(), session.IsAdmin(), now, session.ID())
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectOne(result, shared.ErrSessionNotFound, session.ID())
}

// Delete soft-deletes a session; used on logout
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE sessions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectOne(result, shared.ErrSessionNotFound, id)
}

// List retrieves sessions ordered by sequence.
//
// Supported criteria: ride_id, username, and include_deleted (bool) for ride history.
func (r *SessionRepository) List(criteria map[string]any) ([]*models.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1 = 1`
	args := []any{}

	if include, _ := criteria["include_deleted"].(bool); !include {
		query += " AND deleted_at IS NULL"
	}
	if rideID, ok := criteria["ride_id"].(string); ok && rideID != "" {
		query += " AND ride_id = ?"
		args = append(args, rideID)
	}
	if username, ok := criteria["username"].(string); ok && username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}
	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SessionRecord
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

func scanSession(s scanner) (*models.SessionRecord, error) {
	var (
		id        string
		sequence  int
		rideID    string
		username  string
		isAdmin   bool
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)

	if err := s.Scan(&id, &sequence, &rideID, &username, &isAdmin, &createdAt, &updatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session := models.NewSessionRecord(models.Session{SessionID: id, Username: username, RideID: rideID, IsAdmin: isAdmin})
	session.SetSequence(sequence)
	session.SetCreatedAt(createdAt)
	session.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		session.SetDeletedAt(&deletedAt.Time)
	}
	return session, nil
}
