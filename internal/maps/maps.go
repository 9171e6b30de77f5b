// Package maps defines the [Adapter] the ride client draws riders on, and its providers.
//
// Every provider shares a [Canvas]: the viewport center, zoom, the marker set keyed by session id,
// and the marker whose info popup is open. Providers differ in how a viewport is turned into something
// a person can look at (a Google Static Maps URL, an OpenStreetMap link, or nothing).
package maps

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// Provider names accepted by [New].
const (
	ProviderGoogle = "google"
	ProviderOSM    = "osm"
	ProviderNone   = "none"
)

// DefaultZoom is used for the first centering on the local rider.
const DefaultZoom = 15

// Adapter is the capability set the ride client needs from a map.
type Adapter interface {
	Name() string
	Ready() <-chan struct{}
	SetCenter(loc models.Location)
	PanTo(loc models.Location)
	UpsertMarker(id string, loc models.Location, label string, self bool)
	RemoveMarker(id string)
	OpenInfo(id string)
	OnMarkerClick(fn func(id string))
	Click(id string)
	Clear()
	View() View
	URL() string
}

// Marker is a rider projected onto the map.
type Marker struct {
	ID       string
	Label    string
	Location models.Location
	Self     bool
}

// View is a snapshot of the canvas.
type View struct {
	Center   *models.Location
	Zoom     int
	Markers  []Marker
	InfoOpen string
	Pans     int
}

// Marker returns the marker with id from the snapshot.
func (v View) Marker(id string) (Marker, bool) {
	for _, m := range v.Markers {
		if m.ID == id {
			return m, true
		}
	}
	return Marker{}, false
}

// Canvas is the in-memory map state shared by providers. Safe for concurrent use.
type Canvas struct {
	mu       sync.Mutex
	center   *models.Location
	zoom     int
	markers  map[string]Marker
	infoOpen string
	pans     int
	onClick  func(id string)
	ready    chan struct{}
}

// NewCanvas returns an empty canvas that is ready immediately.
func NewCanvas() *Canvas {
	c := &Canvas{markers: make(map[string]Marker), zoom: DefaultZoom, ready: make(chan struct{})}
	close(c.ready)
	return c
}

func (c *Canvas) Ready() <-chan struct{} { return c.ready }

// SetCenter moves the viewport center without animation.
func (c *Canvas) SetCenter(loc models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := loc
	c.center = &l
}

// PanTo moves the viewport center; counted separately so callers can tell selection pans from centering.
func (c *Canvas) PanTo(loc models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := loc
	c.center = &l
	c.pans++
}

func (c *Canvas) UpsertMarker(id string, loc models.Location, label string, self bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[id] = Marker{ID: id, Label: label, Location: loc, Self: self}
}

func (c *Canvas) RemoveMarker(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, id)
	if c.infoOpen == id {
		c.infoOpen = ""
	}
}

// OpenInfo shows the info popup for the marker id, closing any other. Unknown ids are ignored.
func (c *Canvas) OpenInfo(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.markers[id]; ok {
		c.infoOpen = id
	}
}

func (c *Canvas) OnMarkerClick(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClick = fn
}

// Click simulates a click on marker id: the popup opens and the registered callback runs.
func (c *Canvas) Click(id string) {
	c.mu.Lock()
	_, ok := c.markers[id]
	if ok {
		c.infoOpen = id
	}
	fn := c.onClick
	c.mu.Unlock()

	if ok && fn != nil {
		fn(id)
	}
}

// Clear removes every marker and forgets the viewport.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]Marker)
	c.center = nil
	c.infoOpen = ""
	c.zoom = DefaultZoom
}

// View returns a snapshot with markers sorted self first, then by label.
func (c *Canvas) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{Zoom: c.zoom, InfoOpen: c.infoOpen, Pans: c.pans}
	if c.center != nil {
		l := *c.center
		v.Center = &l
	}
	for _, m := range c.markers {
		v.Markers = append(v.Markers, m)
	}
	sort.Slice(v.Markers, func(i, j int) bool {
		a, b := v.Markers[i], v.Markers[j]
		if a.Self != b.Self {
			return a.Self
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.ID < b.ID
	})
	return v
}

// New selects a provider by name. Providers that need an API key fail with [shared.ErrMapLoad] without one.
func New(provider, apiKey string) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGoogle:
		return NewGoogle(apiKey)
	case ProviderOSM, "":
		return NewOSM(), nil
	case ProviderNone:
		return NewNone(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", shared.ErrMapLoad, provider)
	}
}

// RequiresKey reports whether provider needs the server's map API key.
func RequiresKey(provider string) bool {
	return strings.EqualFold(strings.TrimSpace(provider), ProviderGoogle)
}
