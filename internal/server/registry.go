package server

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// codeAttempts bounds ride code generation before giving up on collisions.
const codeAttempts = 16

type member struct {
	session  models.Session
	location *models.Location
}

// Registry holds the live rides and their sessions in memory.
//
// A session outlives its socket: a dropped connection keeps the member so the client can reconnect;
// only logout removes it.
type Registry struct {
	mu       sync.RWMutex
	rides    map[string][]string // ride id -> session ids in join order
	sessions map[string]*member
	newCode  func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rides:    make(map[string][]string),
		sessions: make(map[string]*member),
		newCode:  shared.NewRideCode,
	}
}

// Create opens a new ride with username as its admin.
func (r *Registry) Create(username string) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range codeAttempts {
		code := r.newCode()
		if _, taken := r.rides[code]; taken {
			continue
		}
		r.rides[code] = nil
		return r.addLocked(username, code, true), nil
	}
	return models.Session{}, fmt.Errorf("%w: no free ride code after %d attempts", shared.ErrServiceUnavailable, codeAttempts)
}

// Join adds username to an existing ride. Ride codes are case-insensitive.
func (r *Registry) Join(username, rideID string) (models.Session, error) {
	code := strings.ToUpper(strings.TrimSpace(rideID))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rides[code]; !ok {
		return models.Session{}, fmt.Errorf("%w: %s", shared.ErrRideNotFound, code)
	}
	return r.addLocked(username, code, false), nil
}

func (r *Registry) addLocked(username, rideID string, admin bool) models.Session {
	s := models.Session{
		SessionID: shared.GenerateID(),
		Username:  username,
		RideID:    rideID,
		IsAdmin:   admin,
	}
	r.sessions[s.SessionID] = &member{session: s}
	r.rides[rideID] = append(r.rides[rideID], s.SessionID)
	return s
}

// Remove deletes a session. The ride itself stays open.
func (r *Registry) Remove(sessionID string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[sessionID]
	if !ok {
		return models.Session{}, false
	}
	delete(r.sessions, sessionID)

	ids := r.rides[m.session.RideID]
	if i := slices.Index(ids, sessionID); i >= 0 {
		r.rides[m.session.RideID] = slices.Delete(ids, i, i+1)
	}
	return m.session, true
}

// Get returns the session for id.
func (r *Registry) Get(sessionID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.sessions[sessionID]
	if !ok {
		return models.Session{}, false
	}
	return m.session, true
}

// HasRide reports whether a ride code is open.
func (r *Registry) HasRide(rideID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rides[strings.ToUpper(rideID)]
	return ok
}

// SetLocation stores the latest position of a session and returns the updated rider.
func (r *Registry) SetLocation(sessionID string, loc models.Location) (models.Rider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[sessionID]
	if !ok {
		return models.Rider{}, false
	}
	m.location = &loc
	return m.rider(), true
}

// Riders lists the members of a ride in join order.
func (r *Registry) Riders(rideID string) []models.Rider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.rides[strings.ToUpper(rideID)]
	riders := make([]models.Rider, 0, len(ids))
	for _, id := range ids {
		riders = append(riders, r.sessions[id].rider())
	}
	return riders
}

// All lists every rider across rides, ordered by ride code then join order.
func (r *Registry) All() []models.Rider {
	var riders []models.Rider
	for _, code := range r.Rides() {
		riders = append(riders, r.Riders(code)...)
	}
	if riders == nil {
		riders = []models.Rider{}
	}
	return riders
}

// Rides returns the open ride codes, sorted.
func (r *Registry) Rides() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.rides))
	for code := range r.rides {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

func (m *member) rider() models.Rider {
	rider := models.Rider{SessionID: m.session.SessionID, Username: m.session.Username}
	if m.location != nil {
		loc := *m.location
		rider.Location = &loc
	}
	return rider
}
