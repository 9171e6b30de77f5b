package geo

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

const (
	SourceStatic = "static"
	SourceReplay = "replay"
	SourceWalk   = "walk"
)

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111_320.0

// Static reports the same location every interval.
type Static struct {
	Location models.Location
	Interval time.Duration
}

func (s Static) Watch(ctx context.Context, _ Policy) <-chan Reading {
	return tick(ctx, s.Interval, func(now time.Time) Reading {
		return Reading{Fix: Fix{Location: s.Location, Time: now}}
	})
}

// Replay reads a track file on every watch and reports its points in order, looping at the end.
//
// Each line is either "lat,lng[,accuracy]" or a JSON object {"lat":..,"lng":..,"accuracy":..}.
// Blank lines and lines starting with # are skipped. An unreadable file is reported as a
// reading error and retried on the next tick.
type Replay struct {
	Path     string
	Interval time.Duration
}

func (r Replay) Watch(ctx context.Context, _ Policy) <-chan Reading {
	var points []models.Location
	i := 0
	return tick(ctx, r.Interval, func(now time.Time) Reading {
		if points == nil {
			loaded, err := LoadTrack(r.Path)
			if err != nil {
				return Reading{Err: err}
			}
			points = loaded
		}
		loc := points[i%len(points)]
		i++
		return Reading{Fix: Fix{Location: loc, Time: now}}
	})
}

// LoadTrack reads a track file for [Replay].
func LoadTrack(path string) ([]models.Location, error) {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	points, err := ParseTrack(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// ParseTrack parses track lines. A track with no points is an error.
func ParseTrack(r io.Reader) ([]models.Location, error) {
	var points []models.Location
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		loc, err := parsePoint(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", shared.ErrInvalidInput, n, err)
		}
		points = append(points, loc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: track has no points", shared.ErrInvalidInput)
	}
	return points, nil
}

func parsePoint(line string) (models.Location, error) {
	var loc models.Location
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), &loc); err != nil {
			return loc, err
		}
	} else {
		fields := strings.Split(line, ",")
		if len(fields) < 2 || len(fields) > 3 {
			return loc, fmt.Errorf("expected lat,lng[,accuracy], got %q", line)
		}
		values := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return loc, err
			}
			values[i] = v
		}
		loc.Lat, loc.Lng = values[0], values[1]
		if len(values) == 3 {
			acc := values[2]
			loc.Accuracy = &acc
		}
	}
	if !loc.Valid() {
		return loc, fmt.Errorf("coordinates out of range: %s", loc)
	}
	return loc, nil
}

// Walk is a seeded random walk from Start, moving up to StepMeters per interval.
//
// Accuracy is reported as 5m with high accuracy and 50m without.
type Walk struct {
	Start      models.Location
	Interval   time.Duration
	StepMeters float64
	Seed       uint64
}

func (w Walk) Watch(ctx context.Context, p Policy) <-chan Reading {
	rng := rand.New(rand.NewPCG(w.Seed, w.Seed^0x9e3779b97f4a7c15))
	step := w.StepMeters
	if step <= 0 {
		step = 10
	}
	acc := 50.0
	if p.HighAccuracy {
		acc = 5.0
	}
	pos := w.Start

	return tick(ctx, w.Interval, func(now time.Time) Reading {
		heading := rng.Float64() * 2 * math.Pi
		dist := rng.Float64() * step
		pos.Lat = clamp(pos.Lat+dist*math.Cos(heading)/metersPerDegree, -90, 90)
		lngScale := metersPerDegree * math.Max(math.Cos(pos.Lat*math.Pi/180), 0.01)
		pos.Lng = wrap(pos.Lng + dist*math.Sin(heading)/lngScale)

		a := acc
		return Reading{Fix: Fix{Location: models.Location{Lat: pos.Lat, Lng: pos.Lng, Accuracy: &a}, Time: now}}
	})
}

// NewSource builds the configured position source.
func NewSource(c shared.GeolocationConfig) (Source, error) {
	interval := c.Interval.Duration
	if interval <= 0 {
		interval = 2 * time.Second
	}
	start := models.Location{Lat: c.StartLat, Lng: c.StartLng}
	if !start.Valid() {
		return nil, fmt.Errorf("%w: start position %s", shared.ErrInvalidConfig, start)
	}

	switch strings.ToLower(c.Source) {
	case SourceStatic:
		return Static{Location: start, Interval: interval}, nil
	case SourceReplay:
		if c.TrackFile == "" {
			return nil, fmt.Errorf("%w: replay source needs geolocation.track_file", shared.ErrMissingConfig)
		}
		return Replay{Path: c.TrackFile, Interval: interval}, nil
	case SourceWalk, "":
		return Walk{Start: start, Interval: interval, Seed: uint64(time.Now().UnixNano())}, nil
	default:
		return nil, fmt.Errorf("%w: unknown geolocation source %q", shared.ErrInvalidConfig, c.Source)
	}
}

// tick emits next() immediately and then once per interval until ctx is done.
func tick(ctx context.Context, interval time.Duration, next func(time.Time) Reading) <-chan Reading {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan Reading)
	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		now := time.Now()
		for {
			select {
			case out <- next(now):
			case <-ctx.Done():
				return
			}

			select {
			case now = <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func wrap(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}

// earthRadius is the mean radius used by [Distance], in metres.
const earthRadius = 6_371_000.0

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b models.Location) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}
