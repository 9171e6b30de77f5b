package geo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

// chanSource replays readings pushed by the test.
type chanSource struct {
	ch chan Reading
}

func newChanSource() *chanSource { return &chanSource{ch: make(chan Reading)} }

func (s *chanSource) Watch(ctx context.Context, _ Policy) <-chan Reading {
	out := make(chan Reading)
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

// recorder collects callback results.
type recorder struct {
	mu    sync.Mutex
	fixes []Fix
	errs  []error
}

func (r *recorder) fix(f Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes = append(r.fixes, f)
}

func (r *recorder) err(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes), len(r.errs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFeed(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fixAt := func(lat float64, at time.Time) Reading {
		return Reading{Fix: Fix{Location: models.Location{Lat: lat, Lng: 1}, Time: at}}
	}

	t.Run("delivers fixes in order", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{}, nil).Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		src.ch <- fixAt(1, base)
		src.ch <- fixAt(2, base.Add(time.Second))

		waitFor(t, func() bool { n, _ := rec.counts(); return n == 2 })
		if rec.fixes[0].Location.Lat != 1 || rec.fixes[1].Location.Lat != 2 {
			t.Errorf("unexpected fixes %+v", rec.fixes)
		}
	})

	t.Run("maximum age zero drops fixes that do not advance", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{MaximumAge: 0}, nil).Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		src.ch <- fixAt(1, base)
		src.ch <- fixAt(2, base)
		src.ch <- fixAt(3, base.Add(-time.Second))
		src.ch <- fixAt(4, base.Add(time.Second))

		waitFor(t, func() bool { n, _ := rec.counts(); return n == 2 })
		if rec.fixes[1].Location.Lat != 4 {
			t.Errorf("expected the cached fixes to be dropped, got %+v", rec.fixes)
		}
	})

	t.Run("maximum age drops stale fixes", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		feed := NewFeed(src, Policy{MaximumAge: time.Minute}, nil)
		feed.now = func() time.Time { return base }
		stop := feed.Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		src.ch <- fixAt(1, base.Add(-2*time.Minute))
		src.ch <- fixAt(2, base.Add(-30*time.Second))

		waitFor(t, func() bool { n, _ := rec.counts(); return n == 1 })
		if rec.fixes[0].Location.Lat != 2 {
			t.Errorf("expected only the fresh fix, got %+v", rec.fixes)
		}
	})

	t.Run("errors do not stop the watch", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{}, nil).Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		src.ch <- Reading{Err: ErrUnavailable}
		src.ch <- fixAt(1, base)
		src.ch <- Reading{Err: ErrUnavailable}

		waitFor(t, func() bool { n, e := rec.counts(); return n == 1 && e == 2 })
	})

	t.Run("permission denial is reported once", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{}, nil).Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		src.ch <- Reading{Err: ErrPermissionDenied}
		src.ch <- Reading{Err: ErrPermissionDenied}
		src.ch <- fixAt(1, base)

		waitFor(t, func() bool { n, _ := rec.counts(); return n == 1 })
		if _, e := rec.counts(); e != 1 {
			t.Errorf("expected one denial, got %d errors", e)
		}
		if !errors.Is(rec.errs[0], shared.ErrGeolocation) {
			t.Errorf("expected a geolocation error, got %v", rec.errs[0])
		}
	})

	t.Run("timeout is reported and the watch continues", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{Timeout: 20 * time.Millisecond}, nil).Watch(context.Background(), rec.fix, rec.err)
		defer stop()

		waitFor(t, func() bool { _, e := rec.counts(); return e >= 1 })
		if !errors.Is(rec.errs[0], ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", rec.errs[0])
		}

		src.ch <- fixAt(1, base)
		waitFor(t, func() bool { n, _ := rec.counts(); return n == 1 })
	})

	t.Run("no callbacks after stop", func(t *testing.T) {
		src := newChanSource()
		rec := &recorder{}
		stop := NewFeed(src, Policy{}, nil).Watch(context.Background(), rec.fix, rec.err)

		src.ch <- fixAt(1, base)
		waitFor(t, func() bool { n, _ := rec.counts(); return n == 1 })

		stop()
		stop()

		select {
		case src.ch <- fixAt(2, base.Add(time.Second)):
		case <-time.After(50 * time.Millisecond):
		}
		time.Sleep(20 * time.Millisecond)
		if n, _ := rec.counts(); n != 1 {
			t.Errorf("expected no fixes after stop, got %d", n)
		}
	})
}

func TestSources(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		loc := models.Location{Lat: 10, Lng: 20}
		readings := Static{Location: loc, Interval: 5 * time.Millisecond}.Watch(ctx, DefaultPolicy())

		first, second := <-readings, <-readings
		if first.Fix.Location != loc || second.Fix.Location != loc {
			t.Errorf("expected static location, got %+v %+v", first, second)
		}
		if !second.Fix.Time.After(first.Fix.Time) {
			t.Error("expected advancing fix times")
		}

		cancel()
		for range readings {
		}
	})

	t.Run("walk is deterministic for a seed and stays valid", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		start := models.Location{Lat: 51.5, Lng: -0.12}
		a := Walk{Start: start, Interval: time.Millisecond, Seed: 7}.Watch(ctx, DefaultPolicy())
		b := Walk{Start: start, Interval: time.Millisecond, Seed: 7}.Watch(ctx, DefaultPolicy())

		for range 5 {
			ra, rb := <-a, <-b
			if ra.Fix.Location.Lat != rb.Fix.Location.Lat || ra.Fix.Location.Lng != rb.Fix.Location.Lng {
				t.Fatalf("expected identical walks, got %s and %s", ra.Fix.Location, rb.Fix.Location)
			}
			if !ra.Fix.Location.Valid() {
				t.Fatalf("walk left valid bounds: %s", ra.Fix.Location)
			}
			if *ra.Fix.Location.Accuracy != 5 {
				t.Errorf("expected high accuracy, got %v", *ra.Fix.Location.Accuracy)
			}
		}
	})

	t.Run("replay loops over the track", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "track.txt")
		track := "# morning loop\n1,1\n\n2,2,8\n"
		if err := os.WriteFile(path, []byte(track), 0o644); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		readings := Replay{Path: path, Interval: time.Millisecond}.Watch(ctx, DefaultPolicy())

		var lats []float64
		for range 3 {
			r := <-readings
			if r.Err != nil {
				t.Fatalf("unexpected reading error: %v", r.Err)
			}
			lats = append(lats, r.Fix.Location.Lat)
		}
		if lats[0] != 1 || lats[1] != 2 || lats[2] != 1 {
			t.Errorf("expected 1,2,1 got %v", lats)
		}
	})

	t.Run("replay reports a missing track as a reading error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		readings := Replay{Path: filepath.Join(t.TempDir(), "nope.txt"), Interval: time.Millisecond}.Watch(ctx, DefaultPolicy())

		r := <-readings
		if !errors.Is(r.Err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", r.Err)
		}
		r = <-readings
		if r.Err == nil {
			t.Error("expected the source to keep retrying")
		}
	})
}

func TestParseTrack(t *testing.T) {
	t.Run("csv and json lines", func(t *testing.T) {
		points, err := ParseTrack(strings.NewReader("51.5,-0.12\n{\"lat\":51.6,\"lng\":-0.13,\"accuracy\":3}\n"))
		if err != nil {
			t.Fatalf("ParseTrack() error = %v", err)
		}
		if len(points) != 2 {
			t.Fatalf("expected 2 points, got %d", len(points))
		}
		if points[1].Accuracy == nil || *points[1].Accuracy != 3 {
			t.Errorf("expected accuracy 3, got %v", points[1].Accuracy)
		}
	})

	for name, input := range map[string]string{
		"empty":        "# nothing\n",
		"one field":    "51.5\n",
		"not a number": "a,b\n",
		"out of range": "95,0\n",
		"bad json":     "{lat}\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTrack(strings.NewReader(input)); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewSource(t *testing.T) {
	cfg := shared.DefaultConfig().Geolocation

	t.Run("default is a walk", func(t *testing.T) {
		src, err := NewSource(cfg)
		if err != nil {
			t.Fatalf("NewSource() error = %v", err)
		}
		if _, ok := src.(Walk); !ok {
			t.Errorf("expected Walk, got %T", src)
		}
	})

	t.Run("replay requires a track file", func(t *testing.T) {
		c := cfg
		c.Source = SourceReplay
		c.TrackFile = ""
		if _, err := NewSource(c); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		c := cfg
		c.Source = "gps-hat"
		if _, err := NewSource(c); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("policy from config", func(t *testing.T) {
		p := PolicyFromConfig(cfg)
		if p != DefaultPolicy() {
			t.Errorf("expected default policy from default config, got %+v", p)
		}
	})
}

func TestDistance(t *testing.T) {
	london := models.Location{Lat: 51.5074, Lng: -0.1278}
	paris := models.Location{Lat: 48.8566, Lng: 2.3522}

	if d := Distance(london, london); d != 0 {
		t.Errorf("expected zero distance, got %f", d)
	}
	if d := Distance(london, paris); d < 340_000 || d > 345_000 {
		t.Errorf("expected about 343km, got %f", d)
	}
	if Distance(london, paris) != Distance(paris, london) {
		t.Error("distance should be symmetric")
	}
}
