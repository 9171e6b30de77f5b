package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// RideRepository implements models.Repository[*models.RideRecord].
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new RideRepository with the given database connection
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

// Create inserts a ride under its own code with a generated sequence
func (r *RideRepository) Create(ride *models.RideRecord) error {
	if err := ride.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "rides")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	ride.SetSequence(sequence)

	query := `
		INSERT INTO rides (id, sequence, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := r.db.Exec(query, ride.ID(), sequence, ride.CreatedBy(), ride.CreatedAt(), ride.UpdatedAt()); err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}
	return nil
}

// Get retrieves a ride by code, excluding soft-deleted rides
func (r *RideRepository) Get(id string) (*models.RideRecord, error) {
	query := `
		SELECT id, sequence, created_by, created_at, updated_at, deleted_at
		FROM rides
		WHERE id = ? AND deleted_at IS NULL
	`

	ride, err := scanRide(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrRideNotFound, id)
	}
	return ride, err
}

// Update touches updated_at; a ride has no other mutable fields
func (r *RideRepository) Update(ride *models.RideRecord) error {
	if err := ride.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	ride.SetUpdatedAt(now)

	result, err := r.db.Exec(`UPDATE rides SET updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, ride.ID())
	if err != nil {
		return fmt.Errorf("failed to update ride: %w", err)
	}
	return expectOne(result, shared.ErrRideNotFound, ride.ID())
}

// Delete soft-deletes a ride by code
func (r *RideRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE rides SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete ride: %w", err)
	}
	return expectOne(result, shared.ErrRideNotFound, id)
}

// List retrieves rides ordered by sequence. Supported criteria: created_by.
func (r *RideRepository) List(criteria map[string]any) ([]*models.RideRecord, error) {
	query := `
		SELECT id, sequence, created_by, created_at, updated_at, deleted_at
		FROM rides
		WHERE deleted_at IS NULL
	`
	args := []any{}

	if createdBy, ok := criteria["created_by"].(string); ok && createdBy != "" {
		query += " AND created_by = ?"
		args = append(args, createdBy)
	}
	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rides: %w", err)
	}
	defer rows.Close()

	var rides []*models.RideRecord
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return rides, nil
}

// scanner is satisfied by [sql.Row] and [sql.Rows]
type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*models.RideRecord, error) {
	var (
		id        string
		sequence  int
		createdBy string
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)

	if err := s.Scan(&id, &sequence, &createdBy, &createdAt, &updatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ride: %w", err)
	}

	ride := models.NewRideRecord(id, createdBy)
	ride.SetSequence(sequence)
	ride.SetCreatedAt(createdAt)
	ride.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		ride.SetDeletedAt(&deletedAt.Time)
	}
	return ride, nil
}

// expectOne maps zero affected rows to a not-found error
func expectOne(result sql.Result, notFound error, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s (or already deleted)", notFound, id)
	}
	return nil
}
