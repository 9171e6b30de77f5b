// package shared defines shared helpers
package shared

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// JoinLinkParam is the query parameter that pre-fills join mode.
const JoinLinkParam = "ride_id"

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewFileLogger creates a [log.Logger] that appends to the file at path, creating parent directories as needed.
//
// Used by the TUI so log lines don't corrupt the rendered screen.
func NewFileLogger(path string) (*log.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return log.NewWithOptions(f, log.Options{ReportTimestamp: true, ReportCaller: true, Level: log.DebugLevel}), nil
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// NewRideCode returns a short, upper-case ride code derived from a fresh [uuid.UUID].
func NewRideCode() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(id[:6])
}

// ParseJoinLink extracts the ride id from a deep link such as https://host/?ride_id=ABC123.
//
// A bare ride code (no scheme, no query) is accepted as-is.
func ParseJoinLink(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}

	if !strings.ContainsAny(link, "/?=") {
		return link, true
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}

	rideID := strings.TrimSpace(u.Query().Get(JoinLinkParam))
	return rideID, rideID != ""
}

// JoinLink builds the deep link that opens the client in join mode for rideID.
func JoinLink(baseURL, rideID string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s/?%s=%s", strings.TrimRight(baseURL, "/"), JoinLinkParam, url.QueryEscape(rideID))
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set(JoinLinkParam, rideID)
	u.RawQuery = q.Encode()
	return u.String()
}
