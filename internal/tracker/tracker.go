// Package tracker is the client's session context. It owns at most one session and wires the
// geolocation feed, the realtime channel, the roster, and the map together for its lifetime.
//
// Every error is converted to a [Notification] at the boundary where it happens; none stops
// the tracker. The worst outcome is a forced logout.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/channel"
	"github.com/desertthunder/ridex/internal/geo"
	"github.com/desertthunder/ridex/internal/maps"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/protocol"
	"github.com/desertthunder/ridex/internal/roster"
	"github.com/desertthunder/ridex/internal/shared"
)

const (
	defaultMapReadyTimeout = 5 * time.Second
	logoutTimeout          = 5 * time.Second
)

// Notice texts that callers may match on.
const (
	NoticeConnected      = "connected"
	NoticeSessionExpired = "session expired, please log in again"
	NoticeDenied         = "location permission denied"
	NoticeTimeout        = "timed out waiting for a position"
)

// API is the subset of the ride server the tracker needs.
type API interface {
	Config(ctx context.Context) (models.RemoteConfig, error)
	Login(ctx context.Context, username string, action models.Action, rideID string) (models.Session, error)
	Logout(ctx context.Context, sessionID string) error
	WebSocketURL(sessionID string) string
}

// Level of a [Notification].
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a transient user-visible message.
type Notification struct {
	Level Level
	Text  string
	Time  time.Time
}

// Options configures a [Tracker]. API, Map, Source, and Dialer are required.
type Options struct {
	API             API
	Map             maps.Adapter
	Source          geo.Source
	Policy          geo.Policy
	Dialer          channel.Dialer
	Clock           channel.Clock
	ReconnectDelay  time.Duration
	MapReadyTimeout time.Duration
	Logger          *log.Logger
	// Notify receives notifications. It must not block.
	Notify func(Notification)
	// OnChange runs after any change to the session or roster.
	OnChange func()
}

// Tracker is safe for concurrent use.
type Tracker struct {
	opts   Options
	logger *log.Logger

	mu       sync.Mutex
	session  *models.Session
	pending  bool
	roster   *roster.Roster
	ch       *channel.Channel
	stopFeed func()
	gen      uint64 // bumped on every Start and Logout; callbacks from older generations are dropped

	logouts sync.WaitGroup
}

// New creates a logged out tracker.
func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = log.New(discard{})
	}
	if opts.Map == nil {
		opts.Map = maps.NewNone()
	}
	if opts.Notify == nil {
		opts.Notify = func(Notification) {}
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}
	if opts.MapReadyTimeout <= 0 {
		opts.MapReadyTimeout = defaultMapReadyTimeout
	}
	if opts.Policy == (geo.Policy{}) {
		opts.Policy = geo.DefaultPolicy()
	}
	return &Tracker{opts: opts, logger: opts.Logger}
}

// Bootstrap fetches the remote config and selects the map provider.
//
// It always returns a usable adapter. When the provider cannot be used (no key, rejected key,
// unknown provider) it falls back to the none map and also returns the reason.
func Bootstrap(ctx context.Context, api API, provider string, logger *log.Logger) (maps.Adapter, error) {
	if logger == nil {
		logger = log.New(discard{})
	}

	var key string
	if maps.RequiresKey(provider) {
		cfg, err := api.Config(ctx)
		if err != nil {
			logger.Warn("could not load remote config; continuing without a map", "err", err)
			return maps.NewNone(), err
		}
		key = cfg.GoogleMapsAPIKey
	}

	adapter, err := maps.New(provider, key)
	if err != nil {
		logger.Warn("map unavailable; continuing without a map", "provider", provider, "err", err)
		return maps.NewNone(), err
	}
	logger.Debug("map ready", "provider", adapter.Name())
	return adapter, nil
}

// Map returns the adapter the tracker draws on.
func (t *Tracker) Map() maps.Adapter { return t.opts.Map }

// Login validates input, authenticates with the server, and waits for the map.
// It does not open the channel; call [Tracker.Start].
func (t *Tracker) Login(ctx context.Context, username, action, rideID string) (models.Session, error) {
	username = strings.TrimSpace(username)
	rideID = strings.TrimSpace(rideID)
	if code, ok := shared.ParseJoinLink(rideID); ok {
		rideID = code
	}

	if username == "" {
		return models.Session{}, fmt.Errorf("%w: %w: username is required", shared.ErrAuth, shared.ErrInvalidInput)
	}
	act, err := models.ParseAction(action)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w: %v", shared.ErrAuth, shared.ErrInvalidInput, err)
	}
	if act == models.ActionJoin && rideID == "" {
		return models.Session{}, fmt.Errorf("%w: %w: ride id is required to join", shared.ErrAuth, shared.ErrInvalidInput)
	}
	if act == models.ActionCreate {
		rideID = ""
	}

	t.mu.Lock()
	if t.session != nil || t.pending {
		t.mu.Unlock()
		return models.Session{}, shared.ErrSessionActive
	}
	t.pending = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
	}()

	session, err := t.opts.API.Login(ctx, username, act, rideID)
	if err != nil {
		t.logger.Warn("login rejected", "username", username, "err", err)
		return models.Session{}, err
	}

	if err := t.waitForMap(ctx); err != nil {
		return models.Session{}, err
	}

	t.mu.Lock()
	t.session = &session
	t.roster = roster.New(session, roster.Options{
		Map:         t.opts.Map,
		Notify:      func(text string) { t.notify(LevelInfo, text) },
		Rebroadcast: t.rebroadcast,
		Logger:      t.logger,
	})
	t.mu.Unlock()

	t.logger.Info("logged in", "username", session.Username, "ride", session.RideID, "admin", session.IsAdmin)
	t.opts.OnChange()
	return session, nil
}

// waitForMap blocks until the map is ready. A timeout is logged and ignored.
func (t *Tracker) waitForMap(ctx context.Context) error {
	timer := time.NewTimer(t.opts.MapReadyTimeout)
	defer timer.Stop()

	select {
	case <-t.opts.Map.Ready():
		return nil
	case <-timer.C:
		t.logger.Warn("map not ready; continuing", "timeout", t.opts.MapReadyTimeout)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", shared.ErrTimeout, ctx.Err())
	}
}

// Start opens the geolocation watch and the realtime channel. It is a no-op once started.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return shared.ErrNotAuthenticated
	}
	if t.ch != nil {
		t.mu.Unlock()
		return nil
	}

	t.gen++
	gen := t.gen
	ch := channel.New(channel.Options{
		URL:            t.opts.API.WebSocketURL(t.session.SessionID),
		Dialer:         t.opts.Dialer,
		Handler:        &link{t: t, gen: gen},
		Clock:          t.opts.Clock,
		ReconnectDelay: t.opts.ReconnectDelay,
		Active:         func() bool { return t.current(gen) },
		Logger:         shared.WithLogger(t.logger, "component", "channel"),
	})
	t.ch = ch

	feed := geo.NewFeed(t.opts.Source, t.opts.Policy, shared.WithLogger(t.logger, "component", "geo"))
	t.stopFeed = feed.Watch(context.Background(),
		func(f geo.Fix) { t.onFix(gen, f) },
		func(err error) { t.onGeoError(gen, err) },
	)
	t.mu.Unlock()

	if err := ch.Connect(ctx); err != nil {
		t.logger.Warn("initial connect failed", "err", err)
	}
	return nil
}

// Logout tears the session down locally and, when notifyServer is set, tells the server
// in the background. Calling it without a session does nothing.
func (t *Tracker) Logout(notifyServer bool) {
	t.logout(notifyServer, 0)
}

// logout tears down the current session. A non-zero gen limits it to that generation.
func (t *Tracker) logout(notifyServer bool, gen uint64) {
	t.mu.Lock()
	if t.session == nil || (gen != 0 && gen != t.gen) {
		t.mu.Unlock()
		return
	}
	session := *t.session
	ch, stop, r := t.ch, t.stopFeed, t.roster
	t.session, t.ch, t.stopFeed, t.roster = nil, nil, nil, nil
	t.gen++
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ch != nil {
		ch.Close()
	}
	if r != nil {
		r.Clear()
	}
	t.opts.Map.Clear()

	if notifyServer {
		t.logouts.Add(1)
		go func() {
			defer t.logouts.Done()
			ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
			defer cancel()
			if err := t.opts.API.Logout(ctx, session.SessionID); err != nil {
				t.logger.Warn("logout notification failed", "session", session.SessionID, "err", err)
			}
		}()
	}

	t.logger.Info("logged out", "username", session.Username, "ride", session.RideID, "notified", notifyServer)
	t.opts.OnChange()
}

// Wait blocks until background logout notifications finish.
func (t *Tracker) Wait() { t.logouts.Wait() }

// Session returns the current session.
func (t *Tracker) Session() (models.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return models.Session{}, false
	}
	return *t.session, true
}

// ChannelState reports the realtime channel state; closed when not started.
func (t *Tracker) ChannelState() channel.State {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return channel.StateClosed
	}
	return ch.State()
}

// Riders is the roster projection: the local rider first. Empty without a session.
func (t *Tracker) Riders() []models.Rider {
	if r := t.currentRoster(); r != nil {
		return r.List()
	}
	return nil
}

// Select pans the map to a rider. See [roster.Roster.Select].
func (t *Tracker) Select(id string) bool {
	if r := t.currentRoster(); r != nil {
		return r.Select(id)
	}
	return false
}

func (t *Tracker) currentRoster() *roster.Roster {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roster
}

func (t *Tracker) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil && t.gen == gen
}

// parts returns the roster and channel for gen, or nils when gen is stale.
func (t *Tracker) parts(gen uint64) (*roster.Roster, *channel.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil || t.gen != gen {
		return nil, nil
	}
	return t.roster, t.ch
}

func (t *Tracker) onFix(gen uint64, fix geo.Fix) {
	r, ch := t.parts(gen)
	if r == nil {
		return
	}

	if r.UpdateSelf(fix.Location) {
		t.logger.Info("first fix; map centered", "location", fix.Location)
	}
	send(ch, fix.Location, t.logger)
	t.opts.OnChange()
}

func (t *Tracker) onGeoError(gen uint64, err error) {
	if !t.current(gen) {
		return
	}
	switch {
	case errors.Is(err, geo.ErrPermissionDenied):
		t.notify(LevelError, NoticeDenied)
	case errors.Is(err, geo.ErrTimeout):
		t.notify(LevelWarn, NoticeTimeout)
	default:
		t.notify(LevelWarn, fmt.Sprintf("location error: %v", err))
	}
}

// rebroadcast resends the local position, if known, so a newcomer sees it immediately.
func (t *Tracker) rebroadcast() {
	t.mu.Lock()
	r, ch := t.roster, t.ch
	t.mu.Unlock()
	if r == nil || ch == nil {
		return
	}
	if self := r.Self(); self.HasLocation() {
		send(ch, *self.Location, t.logger)
	}
}

// send reports loc while the channel is open and drops it otherwise.
func send(ch *channel.Channel, loc models.Location, logger *log.Logger) {
	if ch == nil || ch.State() != channel.StateOpen {
		return
	}
	if err := ch.Send(protocol.LocationReport{Location: loc}); err != nil {
		logger.Debug("location report dropped", "err", err)
	}
}

func (t *Tracker) notify(level Level, text string) {
	t.opts.Notify(Notification{Level: level, Text: text, Time: time.Now()})
}

// link adapts channel events for one session generation.
type link struct {
	t   *Tracker
	gen uint64
}

func (l *link) Connected() {
	if !l.t.current(l.gen) {
		return
	}
	l.t.notify(LevelInfo, NoticeConnected)
	l.t.rebroadcast()
}

func (l *link) Message(msg protocol.Inbound) {
	r, _ := l.t.parts(l.gen)
	if r == nil {
		return
	}
	r.Apply(msg)
	l.t.opts.OnChange()
}

// Rejected means the server invalidated the session: log out locally without telling it.
func (l *link) Rejected(reason string) {
	if !l.t.current(l.gen) {
		return
	}
	l.t.logger.Warn("session expired", "reason", reason)
	l.t.notify(LevelError, NoticeSessionExpired)
	l.t.logout(false, l.gen)
}

func (l *link) Disconnected(err error) {
	if !l.t.current(l.gen) {
		return
	}
	l.t.notify(LevelWarn, fmt.Sprintf("connection lost, retrying in %s", l.t.reconnectDelay()))
}

func (t *Tracker) reconnectDelay() time.Duration {
	if t.opts.ReconnectDelay > 0 {
		return t.opts.ReconnectDelay
	}
	return channel.DefaultReconnectDelay
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
