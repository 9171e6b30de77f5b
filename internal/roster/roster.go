// Package roster reconciles realtime messages into the set of riders sharing a ride,
// and projects that set onto the map.
//
// The local rider is tracked separately from remote riders. No message ever creates,
// moves, or removes a remote entry for the local session id.
package roster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/maps"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/protocol"
)

// LocationUnavailable is the notice shown when selecting a rider without a known position.
const LocationUnavailable = "location not available"

// Options wires a [Roster] to its surroundings. All fields are optional.
type Options struct {
	Map maps.Adapter
	// Notify receives user-visible notices (joins, leaves, selection failures).
	Notify func(text string)
	// Rebroadcast is called after a rider joins so the local position can be resent immediately.
	Rebroadcast func()
	Logger      *log.Logger
}

// Roster is safe for concurrent use. Callbacks run with its lock released.
//
// Once cleared a roster is closed: late messages and fixes are ignored so nothing
// reappears on the map after logout.
type Roster struct {
	mu     sync.Mutex
	self   models.Rider
	riders map[string]models.Rider
	closed bool

	m           maps.Adapter
	notify      func(string)
	rebroadcast func()
	logger      *log.Logger
}

var _ protocol.Visitor = (*Roster)(nil)

// New creates a roster for the local session.
func New(self models.Session, opts Options) *Roster {
	r := &Roster{
		self:        models.Rider{SessionID: self.SessionID, Username: self.Username, Self: true},
		riders:      make(map[string]models.Rider),
		m:           opts.Map,
		notify:      opts.Notify,
		rebroadcast: opts.Rebroadcast,
		logger:      opts.Logger,
	}
	if r.m == nil {
		r.m = maps.NewNone()
	}
	if r.notify == nil {
		r.notify = func(string) {}
	}
	if r.rebroadcast == nil {
		r.rebroadcast = func() {}
	}
	if r.logger == nil {
		r.logger = log.New(discard{})
	}
	return r
}

// Apply dispatches an inbound message to its reconciliation rule.
func (r *Roster) Apply(msg protocol.Inbound) { msg.Accept(r) }

// VisitInitialState replaces the remote roster.
func (r *Roster) VisitInitialState(m protocol.InitialState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.replaceLocked(m.Users, false)
}

// VisitRidersUpdate is a full resync. A rider listed without a location keeps the one already known.
func (r *Roster) VisitRidersUpdate(m protocol.RidersUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.replaceLocked(m.Riders, true)
}

func (r *Roster) VisitUserJoined(m protocol.UserJoined) {
	if m.SessionID == r.self.SessionID {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.riders[m.SessionID]; ok {
		r.m.RemoveMarker(m.SessionID)
	}
	r.riders[m.SessionID] = models.Rider{SessionID: m.SessionID, Username: m.Username}
	r.mu.Unlock()

	r.logger.Debug("rider joined", "session", m.SessionID, "username", m.Username)
	r.notify(fmt.Sprintf("%s joined the ride", displayName(m.Username, m.SessionID)))
	r.rebroadcast()
}

func (r *Roster) VisitUserLeft(m protocol.UserLeft) {
	if m.SessionID == r.self.SessionID {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	rider, ok := r.riders[m.SessionID]
	if ok {
		delete(r.riders, m.SessionID)
		r.m.RemoveMarker(m.SessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	name := m.Username
	if name == "" {
		name = rider.Username
	}
	r.logger.Debug("rider left", "session", m.SessionID, "username", name)
	r.notify(fmt.Sprintf("%s left the ride", displayName(name, m.SessionID)))
}

func (r *Roster) VisitLocationUpdate(m protocol.LocationUpdate) {
	if m.SessionID == r.self.SessionID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	rider, ok := r.riders[m.SessionID]
	if !ok {
		rider = models.Rider{SessionID: m.SessionID}
	}
	if m.Username != "" {
		rider.Username = m.Username
	}
	loc := m.Location
	rider.Location = &loc
	r.riders[m.SessionID] = rider
	r.m.UpsertMarker(rider.SessionID, loc, displayName(rider.Username, rider.SessionID), false)
}

// replaceLocked swaps the remote roster for riders and resyncs markers.
func (r *Roster) replaceLocked(riders []models.Rider, keepLocations bool) {
	next := make(map[string]models.Rider, len(riders))
	for _, in := range riders {
		if in.SessionID == "" || in.SessionID == r.self.SessionID {
			continue
		}
		rider := models.Rider{SessionID: in.SessionID, Username: in.Username}
		switch {
		case in.Location != nil:
			loc := *in.Location
			rider.Location = &loc
		case keepLocations:
			if prev, ok := r.riders[in.SessionID]; ok {
				rider.Location = prev.Location
			}
		}
		next[rider.SessionID] = rider
	}

	for id, prev := range r.riders {
		if cur, ok := next[id]; !ok || (prev.HasLocation() && !cur.HasLocation()) {
			r.m.RemoveMarker(id)
		}
	}
	for _, rider := range next {
		if rider.HasLocation() {
			r.m.UpsertMarker(rider.SessionID, *rider.Location, displayName(rider.Username, rider.SessionID), false)
		}
	}
	r.riders = next
}

// UpdateSelf records a local fix. The first fix centers the map; later fixes only move the marker.
func (r *Roster) UpdateSelf(loc models.Location) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	first = r.self.Location == nil
	l := loc
	r.self.Location = &l
	if first {
		r.m.SetCenter(loc)
	}
	r.m.UpsertMarker(r.self.SessionID, loc, displayName(r.self.Username, r.self.SessionID), true)
	return first
}

// Self returns the local rider.
func (r *Roster) Self() models.Rider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// Get returns a remote rider by session id.
func (r *Roster) Get(id string) (models.Rider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rider, ok := r.riders[id]
	return rider, ok
}

// List projects the roster: the local rider first, then remote riders by username and id.
func (r *Roster) List() []models.Rider {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Rider, 0, len(r.riders)+1)
	for _, rider := range r.riders {
		out = append(out, rider)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].SessionID < out[j].SessionID
	})
	return append([]models.Rider{r.self}, out...)
}

// Count is the number of riders including the local one.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.riders) + 1
}

// Select pans to a rider and opens its info popup. Without a known location it notifies instead.
func (r *Roster) Select(id string) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	rider, ok := r.riders[id]
	if id == r.self.SessionID {
		rider, ok = r.self, true
	}
	if ok && rider.HasLocation() {
		r.m.PanTo(*rider.Location)
		r.m.OpenInfo(id)
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	r.notify(LocationUnavailable)
	return false
}

// Clear forgets every rider, including the local position, empties the map and closes the roster.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.riders = make(map[string]models.Rider)
	r.self.Location = nil
	r.m.Clear()
}

func displayName(username, id string) string {
	if username != "" {
		return username
	}
	return id
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
