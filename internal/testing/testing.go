// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ridex/internal/channel"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/gorilla/websocket"
)

// MockRideAPI is a test double for the tracker's ride API.
type MockRideAPI struct {
	mu          sync.Mutex
	Remote      models.RemoteConfig
	ConfigErr   error
	Session     models.Session
	LoginErr    error
	LogoutErr   error
	loginCalls  int
	logoutCalls []string
}

func (m *MockRideAPI) Config(ctx context.Context) (models.RemoteConfig, error) {
	return m.Remote, m.ConfigErr
}

func (m *MockRideAPI) Login(ctx context.Context, username string, action models.Action, rideID string) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCalls++
	if m.LoginErr != nil {
		return models.Session{}, m.LoginErr
	}
	s := m.Session
	if s.Username == "" {
		s.Username = username
	}
	if s.RideID == "" {
		s.RideID = rideID
	}
	return s, nil
}

func (m *MockRideAPI) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutCalls = append(m.logoutCalls, sessionID)
	return m.LogoutErr
}

func (m *MockRideAPI) WebSocketURL(sessionID string) string { return "ws://ride.test/ws/" + sessionID }

func (m *MockRideAPI) LoginCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls
}

func (m *MockRideAPI) LogoutCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logoutCalls...)
}

// FakeClock is a manually advanced [channel.Clock].
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*FakeTimer
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) channel.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &FakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs due timers on the calling goroutine, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*FakeTimer
	keep := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of scheduled timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FakeTimer is returned by [FakeClock.AfterFunc].
type FakeTimer struct {
	clock   *FakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type frame struct {
	data []byte
	err  error
}

// FakeConn is an in-memory [channel.Conn]. Frames pushed by the test are read in order.
type FakeConn struct {
	in     chan frame
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	writes [][]byte
}

func NewFakeConn() *FakeConn {
	return &FakeConn{in: make(chan frame, 64), done: make(chan struct{})}
}

func (c *FakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		if f.err != nil {
			return 0, nil, f.err
		}
		return websocket.TextMessage, f.data, nil
	case <-c.done:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

// WriteMessage records text frames; control frames are ignored.
func (c *FakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	if messageType == websocket.TextMessage {
		c.mu.Lock()
		c.writes = append(c.writes, append([]byte(nil), data...))
		c.mu.Unlock()
	}
	return nil
}

func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Push queues a server frame.
func (c *FakeConn) Push(data string) { c.in <- frame{data: []byte(data)} }

// PushClose makes the next read fail with a close frame carrying code.
func (c *FakeConn) PushClose(code int, text string) {
	c.in <- frame{err: &websocket.CloseError{Code: code, Text: text}}
}

func (c *FakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *FakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// FakeDialer hands out a new [FakeConn] per dial, or fails with Err when set.
type FakeDialer struct {
	mu    sync.Mutex
	Err   error
	urls  []string
	conns []*FakeConn
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.Err != nil {
		return nil, d.Err
	}
	conn := NewFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *FakeDialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Dials counts every attempt, failed or not.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *FakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Last returns the most recent successful connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// WaitFor polls cond until it holds or a second passes.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
