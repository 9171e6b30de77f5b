package maps

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

var (
	_ Adapter = (*Google)(nil)
	_ Adapter = (*OSM)(nil)
	_ Adapter = (*None)(nil)
)

const (
	staticMapsEndpoint = "https://maps.googleapis.com/maps/api/staticmap"
	osmEndpoint        = "https://www.openstreetmap.org/"
	staticMapsSize     = "640x400"
)

// Static Maps rejects URLs over 8192 characters; stop adding markers well before that.
const staticMapsMaxMarkers = 50

// Google renders the canvas as a Google Static Maps URL.
type Google struct {
	*Canvas
	apiKey string
}

// NewGoogle validates apiKey and returns the provider.
func NewGoogle(apiKey string) (*Google, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: google provider requires an API key", shared.ErrConfigLoad)
	}
	if !strings.HasPrefix(apiKey, "AIza") || strings.ContainsAny(apiKey, " \t/?&") {
		return nil, fmt.Errorf("%w: API key rejected", shared.ErrMapLoad)
	}
	return &Google{Canvas: NewCanvas(), apiKey: apiKey}, nil
}

func (g *Google) Name() string { return ProviderGoogle }

// URL returns a static map of the current viewport with every marker, or "" before the first centering.
func (g *Google) URL() string {
	v := g.View()
	if v.Center == nil {
		return ""
	}

	q := url.Values{}
	q.Set("center", latLng(*v.Center))
	q.Set("zoom", fmt.Sprint(v.Zoom))
	q.Set("size", staticMapsSize)
	for i, m := range v.Markers {
		if i == staticMapsMaxMarkers {
			break
		}
		color := "red"
		if m.Self {
			color = "blue"
		}
		q.Add("markers", fmt.Sprintf("color:%s|label:%s|%s", color, markerLabel(m.Label), latLng(m.Location)))
	}
	q.Set("key", g.apiKey)

	return staticMapsEndpoint + "?" + q.Encode()
}

// OSM links to openstreetmap.org centered on the viewport, pinning the marker whose popup is open.
type OSM struct {
	*Canvas
}

func NewOSM() *OSM { return &OSM{Canvas: NewCanvas()} }

func (o *OSM) Name() string { return ProviderOSM }

func (o *OSM) URL() string {
	v := o.View()
	if v.Center == nil {
		return ""
	}

	q := url.Values{}
	pin := *v.Center
	if m, ok := v.Marker(v.InfoOpen); ok {
		pin = m.Location
	}
	q.Set("mlat", fmt.Sprintf("%.5f", pin.Lat))
	q.Set("mlon", fmt.Sprintf("%.5f", pin.Lng))

	return fmt.Sprintf("%s?%s#map=%d/%.5f/%.5f", osmEndpoint, q.Encode(), v.Zoom, v.Center.Lat, v.Center.Lng)
}

// None keeps the canvas state but has nothing to show. Used when the configured provider can't load.
type None struct {
	*Canvas
}

func NewNone() *None { return &None{Canvas: NewCanvas()} }

func (n *None) Name() string { return ProviderNone }
func (n *None) URL() string  { return "" }

func latLng(l models.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

// markerLabel is the single upper-case character Static Maps accepts as a label.
func markerLabel(label string) string {
	for _, r := range strings.ToUpper(label) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return string(r)
		}
	}
	return "R"
}
