package models

import (
	"errors"
	"strings"
	"time"
)

var (
	_ Model = (*RideRecord)(nil)
	_ Model = (*SessionRecord)(nil)
)

// record holds the identity and lifecycle fields shared by persistent entities.
type record struct {
	id        string
	sequence  int
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

func newRecord(sequence int) record {
	now := time.Now().UTC()
	return record{sequence: sequence, createdAt: now, updatedAt: now}
}

func (r *record) ID() string                { return r.id }
func (r *record) SetID(id string)           { r.id = id }
func (r *record) Sequence() int             { return r.sequence }
func (r *record) SetSequence(seq int)       { r.sequence = seq }
func (r *record) CreatedAt() time.Time      { return r.createdAt }
func (r *record) SetCreatedAt(t time.Time)  { r.createdAt = t }
func (r *record) UpdatedAt() time.Time      { return r.updatedAt }
func (r *record) SetUpdatedAt(t time.Time)  { r.updatedAt = t }
func (r *record) DeletedAt() *time.Time     { return r.deletedAt }
func (r *record) SetDeletedAt(t *time.Time) { r.deletedAt = t }
func (r *record) IsDeleted() bool           { return r.deletedAt != nil }

// RideRecord is a persisted ride.
type RideRecord struct {
	record
	createdBy string
}

// NewRideRecord builds a ride with the given code, created by the session createdBy.
func NewRideRecord(id, createdBy string) *RideRecord {
	r := &RideRecord{record: newRecord(0), createdBy: createdBy}
	r.id = id
	return r
}

func (r *RideRecord) CreatedBy() string { return r.createdBy }

func (r *RideRecord) Validate() error {
	if strings.TrimSpace(r.id) == "" {
		return errors.New("ride id is required")
	}
	if strings.TrimSpace(r.createdBy) == "" {
		return errors.New("ride creator is required")
	}
	return nil
}

// SessionRecord is a persisted rider session.
type SessionRecord struct {
	record
	rideID   string
	username string
	isAdmin  bool
}

// NewSessionRecord builds the record for session s.
func NewSessionRecord(s Session) *SessionRecord {
	r := &SessionRecord{
		record:   newRecord(0),
		rideID:   s.RideID,
		username: s.Username,
		isAdmin:  s.IsAdmin,
	}
	r.id = s.SessionID
	return r
}

func (r *SessionRecord) RideID() string   { return r.rideID }
func (r *SessionRecord) Username() string { return r.username }
func (r *SessionRecord) IsAdmin() bool    { return r.isAdmin }

// Session converts the record back into the DTO.
func (r *SessionRecord) Session() Session {
	return Session{SessionID: r.id, Username: r.username, RideID: r.rideID, IsAdmin: r.isAdmin}
}

func (r *SessionRecord) Validate() error {
	if strings.TrimSpace(r.id) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(r.rideID) == "" {
		return errors.New("ride id is required")
	}
	if strings.TrimSpace(r.username) == "" {
		return errors.New("username is required")
	}
	return nil
}

// TrackPoint is one accepted location update.
type TrackPoint struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	RideID     string    `json:"ride_id"`
	Username   string    `json:"username,omitempty"` // filled by joins when listing
	Location   Location  `json:"location"`
	RecordedAt time.Time `json:"recorded_at"`
}
