package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ridex/internal/channel"
	"github.com/desertthunder/ridex/internal/geo"
	"github.com/desertthunder/ridex/internal/maps"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/protocol"
	"github.com/desertthunder/ridex/internal/shared"
	tu "github.com/desertthunder/ridex/internal/testing"
	"github.com/gorilla/websocket"
)

const delay = 3 * time.Second

type pushSource struct {
	ch chan geo.Reading
}

func (s *pushSource) Watch(ctx context.Context, _ geo.Policy) <-chan geo.Reading {
	out := make(chan geo.Reading)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-s.ch:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type fixture struct {
	t       *Tracker
	api     *tu.MockRideAPI
	dialer  *tu.FakeDialer
	clock   *tu.FakeClock
	m       *maps.OSM
	source  *pushSource
	mu      sync.Mutex
	notices []Notification
	base    time.Time
	fixes   int
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:    &tu.MockRideAPI{Session: models.Session{SessionID: "s1", RideID: "ABC123", IsAdmin: true}},
		dialer: &tu.FakeDialer{},
		clock:  tu.NewFakeClock(),
		m:      maps.NewOSM(),
		source: &pushSource{ch: make(chan geo.Reading)},
		base:   time.Now(),
	}
	f.t = New(Options{
		API:            f.api,
		Map:            f.m,
		Source:         f.source,
		Policy:         geo.Policy{HighAccuracy: true},
		Dialer:         f.dialer,
		Clock:          f.clock,
		ReconnectDelay: delay,
		Notify: func(n Notification) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.notices = append(f.notices, n)
		},
	})
	t.Cleanup(func() { f.t.Logout(false) })
	return f
}

// started logs in, starts, and returns the open connection.
func (f *fixture) started(t *testing.T) *tu.FakeConn {
	t.Helper()
	if _, err := f.t.Login(context.Background(), "mia", "create", ""); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := f.t.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f.dialer.Last()
}

func (f *fixture) fix(lat, lng float64) {
	f.fixes++
	f.source.ch <- geo.Reading{Fix: geo.Fix{
		Location: models.Location{Lat: lat, Lng: lng},
		Time:     f.base.Add(time.Duration(f.fixes) * time.Second),
	}}
}

func (f *fixture) noticed(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notices {
		if n.Text == text {
			return true
		}
	}
	return false
}

func TestLogin(t *testing.T) {
	t.Run("validation fails before any network call", func(t *testing.T) {
		tc := []struct {
			name     string
			username string
			action   string
			rideID   string
		}{
			{name: "empty username", username: "   ", action: "create"},
			{name: "unknown action", username: "mia", action: "teleport"},
			{name: "join without ride", username: "mia", action: "join", rideID: " "},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				f := setup(t)
				_, err := f.t.Login(context.Background(), tt.username, tt.action, tt.rideID)
				if !errors.Is(err, shared.ErrAuth) || !errors.Is(err, shared.ErrInvalidInput) {
					t.Fatalf("expected ErrAuth wrapping ErrInvalidInput, got %v", err)
				}
				if f.api.LoginCalls() != 0 {
					t.Errorf("expected no login request, got %d", f.api.LoginCalls())
				}
				if _, ok := f.t.Session(); ok {
					t.Error("expected no session")
				}
			})
		}
	})

	t.Run("server rejection stores no session", func(t *testing.T) {
		f := setup(t)
		f.api.LoginErr = errors.Join(shared.ErrAuth, errors.New("Ride not found"))

		_, err := f.t.Login(context.Background(), "mia", "join", "NOPE")
		if !errors.Is(err, shared.ErrAuth) {
			t.Fatalf("expected ErrAuth, got %v", err)
		}
		if _, ok := f.t.Session(); ok {
			t.Error("expected no session after rejection")
		}
	})

	t.Run("trims input and accepts a join link", func(t *testing.T) {
		f := setup(t)
		f.api.Session.RideID = ""

		session, err := f.t.Login(context.Background(), "  mia ", "join", "http://ride.test/?ride_id=XYZ789")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if session.Username != "mia" || session.RideID != "XYZ789" {
			t.Errorf("unexpected session %+v", session)
		}
	})

	t.Run("one session at a time", func(t *testing.T) {
		f := setup(t)
		f.started(t)

		if _, err := f.t.Login(context.Background(), "mia", "create", ""); !errors.Is(err, shared.ErrSessionActive) {
			t.Errorf("expected ErrSessionActive, got %v", err)
		}
	})

	t.Run("map readiness is bounded", func(t *testing.T) {
		f := setup(t)
		f.t.opts.Map = &stalledMap{None: maps.NewNone()}
		f.t.opts.MapReadyTimeout = 10 * time.Millisecond

		if _, err := f.t.Login(context.Background(), "mia", "create", ""); err != nil {
			t.Fatalf("expected login to continue after the map timeout, got %v", err)
		}
	})

	t.Run("cancelled while waiting for the map", func(t *testing.T) {
		f := setup(t)
		f.t.opts.Map = &stalledMap{None: maps.NewNone()}
		f.t.opts.MapReadyTimeout = time.Minute

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := f.t.Login(ctx, "mia", "create", ""); !errors.Is(err, shared.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if _, ok := f.t.Session(); ok {
			t.Error("expected no session when the map wait fails")
		}
	})
}

type stalledMap struct {
	*maps.None
}

func (stalledMap) Ready() <-chan struct{} { return make(chan struct{}) }

func TestStart(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		f := setup(t)
		if err := f.t.Start(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("opens one channel for the session", func(t *testing.T) {
		f := setup(t)
		f.started(t)
		if err := f.t.Start(context.Background()); err != nil {
			t.Fatalf("second Start() error = %v", err)
		}

		if f.dialer.Dials() != 1 {
			t.Errorf("expected one connection, got %d", f.dialer.Dials())
		}
		if f.dialer.URLs()[0] != "ws://ride.test/ws/s1" {
			t.Errorf("unexpected url %s", f.dialer.URLs()[0])
		}
		if f.t.ChannelState() != channel.StateOpen {
			t.Errorf("expected open, got %s", f.t.ChannelState())
		}
		if !f.noticed(NoticeConnected) {
			t.Error("expected a connected notification")
		}
	})
}

func TestFixes(t *testing.T) {
	t.Run("only the first fix centers the map", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		f.fix(1, 1)
		tu.WaitFor(t, func() bool { _, ok := f.m.View().Marker("s1"); return ok })
		if c := f.m.View().Center; c == nil || c.Lat != 1 {
			t.Fatalf("expected center at the first fix, got %+v", c)
		}

		f.m.PanTo(models.Location{Lat: 30, Lng: 30})
		f.fix(2, 2)
		tu.WaitFor(t, func() bool { m, _ := f.m.View().Marker("s1"); return m.Location.Lat == 2 })

		if c := f.m.View().Center; c.Lat != 30 {
			t.Errorf("later fixes must not recenter, got %+v", c)
		}
		tu.WaitFor(t, func() bool { return len(conn.Writes()) == 2 })
		if !strings.Contains(string(conn.Writes()[0]), `"location_update"`) {
			t.Errorf("unexpected frame %s", conn.Writes()[0])
		}
	})

	t.Run("fixes are dropped while the channel is not open", func(t *testing.T) {
		f := setup(t)
		f.dialer.SetErr(errors.New("connection refused"))
		f.started(t)

		f.fix(1, 1)
		tu.WaitFor(t, func() bool { _, ok := f.m.View().Marker("s1"); return ok })
		if f.dialer.Last() != nil {
			t.Error("expected no connection to write to")
		}
		if f.t.ChannelState() != channel.StateClosed {
			t.Errorf("expected closed, got %s", f.t.ChannelState())
		}
	})

	t.Run("geolocation errors become notifications", func(t *testing.T) {
		f := setup(t)
		f.started(t)

		f.source.ch <- geo.Reading{Err: geo.ErrPermissionDenied}
		tu.WaitFor(t, func() bool { return f.noticed(NoticeDenied) })
		if _, ok := f.t.Session(); !ok {
			t.Error("a geolocation error must not end the session")
		}
	})
}

func TestRealtime(t *testing.T) {
	t.Run("messages update the roster", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		conn.Push(`{"type":"initial_state","users":[{"session_id":"s1","username":"mia","location":null},{"session_id":"a","username":"alice","location":{"lat":1,"lng":1}},{"session_id":"b","username":"bob","location":null}]}`)
		tu.WaitFor(t, func() bool { return len(f.t.Riders()) == 3 })

		riders := f.t.Riders()
		if riders[0].SessionID != "s1" || !riders[0].Self {
			t.Errorf("expected local rider first, got %+v", riders[0])
		}
		if len(f.m.View().Markers) != 1 {
			t.Errorf("expected one marker for alice, got %+v", f.m.View().Markers)
		}
		if !f.t.Select("a") || f.t.Select("b") {
			t.Error("expected alice selectable and bob not")
		}
	})

	t.Run("a newcomer triggers a rebroadcast", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		f.fix(1, 1)
		tu.WaitFor(t, func() bool { return len(conn.Writes()) == 1 })

		conn.Push(`{"type":"user_joined","session_id":"a","username":"alice"}`)
		tu.WaitFor(t, func() bool { return len(conn.Writes()) == 2 })
		if !f.noticed("alice joined the ride") {
			t.Error("expected a join notification")
		}
	})

	t.Run("policy close logs out locally", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		conn.PushClose(websocket.ClosePolicyViolation, "Invalid session")
		tu.WaitFor(t, func() bool { _, ok := f.t.Session(); return !ok })

		if !f.noticed(NoticeSessionExpired) {
			t.Error("expected a session expired notification")
		}
		f.t.Wait()
		if len(f.api.LogoutCalls()) != 0 {
			t.Errorf("expected no server logout, got %v", f.api.LogoutCalls())
		}
		f.clock.Advance(2 * delay)
		if f.dialer.Dials() != 1 {
			t.Errorf("expected no reconnect, got %d dials", f.dialer.Dials())
		}
	})

	t.Run("reconnects after the delay", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		conn.PushClose(websocket.CloseAbnormalClosure, "")
		tu.WaitFor(t, func() bool { return f.t.ChannelState() == channel.StateClosed })

		f.clock.Advance(delay)
		if f.dialer.Dials() != 2 || f.t.ChannelState() != channel.StateOpen {
			t.Errorf("expected a reconnect, got %d dials in state %s", f.dialer.Dials(), f.t.ChannelState())
		}
	})

	t.Run("logout inside the reconnect window cancels it", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)

		conn.PushClose(websocket.CloseAbnormalClosure, "")
		tu.WaitFor(t, func() bool { return f.t.ChannelState() == channel.StateClosed })

		f.t.Logout(false)
		f.clock.Advance(delay)
		if f.dialer.Dials() != 1 {
			t.Errorf("expected no reconnect after logout, got %d dials", f.dialer.Dials())
		}
	})
}

func TestLogout(t *testing.T) {
	t.Run("tears down and notifies once", func(t *testing.T) {
		f := setup(t)
		conn := f.started(t)
		f.fix(1, 1)
		tu.WaitFor(t, func() bool { return len(f.m.View().Markers) == 1 })

		f.t.Logout(true)
		f.t.Logout(true)
		f.t.Wait()

		if calls := f.api.LogoutCalls(); len(calls) != 1 || calls[0] != "s1" {
			t.Errorf("expected one logout for s1, got %v", calls)
		}
		if !conn.Closed() {
			t.Error("expected the connection closed")
		}
		if len(f.m.View().Markers) != 0 || f.m.View().Center != nil {
			t.Error("expected the map cleared")
		}
		if f.t.Riders() != nil {
			t.Error("expected no riders without a session")
		}
		if f.t.ChannelState() != channel.StateClosed {
			t.Errorf("expected closed, got %s", f.t.ChannelState())
		}
	})

	t.Run("callbacks already running do not repaint the map", func(t *testing.T) {
		f := setup(t)
		f.started(t)

		f.t.mu.Lock()
		gen := f.t.gen
		f.t.mu.Unlock()
		r, _ := f.t.parts(gen)
		if r == nil {
			t.Fatal("expected a roster for the running session")
		}

		f.t.Logout(false)
		r.Apply(protocol.LocationUpdate{SessionID: "a", Username: "alice", Location: models.Location{Lat: 2, Lng: 2}})
		r.Apply(protocol.UserJoined{SessionID: "b", Username: "bob"})
		if r.UpdateSelf(models.Location{Lat: 2, Lng: 2}) {
			t.Error("a fix after logout must not count as the first")
		}

		v := f.m.View()
		if len(v.Markers) != 0 || v.Center != nil {
			t.Errorf("expected an empty map after logout, got %+v", v)
		}
		if _, ok := f.t.Session(); ok {
			t.Error("expected no session")
		}
	})

	t.Run("failed notification is not an error", func(t *testing.T) {
		f := setup(t)
		f.api.LogoutErr = shared.ErrAPIRequest
		f.started(t)

		f.t.Logout(true)
		f.t.Wait()
		if _, ok := f.t.Session(); ok {
			t.Error("expected the session cleared regardless")
		}
	})

	t.Run("a new session can follow", func(t *testing.T) {
		f := setup(t)
		f.started(t)
		f.t.Logout(false)

		if _, err := f.t.Login(context.Background(), "mia", "join", "ABC123"); err != nil {
			t.Fatalf("Login() after logout error = %v", err)
		}
	})
}

func TestBootstrap(t *testing.T) {
	tc := []struct {
		name     string
		provider string
		api      *tu.MockRideAPI
		want     string
		wantErr  error
	}{
		{name: "osm needs no config", provider: "osm", api: &tu.MockRideAPI{ConfigErr: shared.ErrConfigLoad}, want: maps.ProviderOSM},
		{name: "google with key", provider: "google", api: &tu.MockRideAPI{Remote: models.RemoteConfig{GoogleMapsAPIKey: "AIzaKey"}}, want: maps.ProviderGoogle},
		{name: "google without config", provider: "google", api: &tu.MockRideAPI{ConfigErr: shared.ErrConfigLoad}, want: maps.ProviderNone, wantErr: shared.ErrConfigLoad},
		{name: "google with an empty key", provider: "google", api: &tu.MockRideAPI{}, want: maps.ProviderNone, wantErr: shared.ErrConfigLoad},
		{name: "google with a rejected key", provider: "google", api: &tu.MockRideAPI{Remote: models.RemoteConfig{GoogleMapsAPIKey: "bogus"}}, want: maps.ProviderNone, wantErr: shared.ErrMapLoad},
		{name: "unknown provider", provider: "bing", api: &tu.MockRideAPI{}, want: maps.ProviderNone, wantErr: shared.ErrMapLoad},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := Bootstrap(context.Background(), tt.api, tt.provider, nil)
			if adapter == nil {
				t.Fatal("expected an adapter even when degraded")
			}
			if adapter.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, adapter.Name())
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
