// Package geo implements the Geolocation Feed: a watch over a position [Source] with an acquisition policy.
//
// Sources push [Reading] values on a channel. The [Feed] applies the [Policy] (timeout, cached fix rejection),
// reports errors without stopping, and reports a permission denial only once.
package geo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
)

var (
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", shared.ErrGeolocation)
	ErrTimeout          = fmt.Errorf("%w: timed out waiting for a position", shared.ErrGeolocation)
	ErrUnavailable      = fmt.Errorf("%w: position unavailable", shared.ErrGeolocation)
)

// Policy controls how positions are acquired.
type Policy struct {
	HighAccuracy bool
	MaximumAge   time.Duration // 0 rejects any fix that is not newer than the last one
	Timeout      time.Duration // 0 disables the acquisition timeout
}

// DefaultPolicy is high accuracy, no cached fix reuse, and a ten second acquisition timeout.
func DefaultPolicy() Policy {
	return Policy{HighAccuracy: true, MaximumAge: 0, Timeout: 10 * time.Second}
}

// PolicyFromConfig builds a [Policy] from the [geolocation] config section.
func PolicyFromConfig(c shared.GeolocationConfig) Policy {
	return Policy{HighAccuracy: c.HighAccuracy, MaximumAge: c.MaximumAge.Duration, Timeout: c.Timeout.Duration}
}

// Fix is a single position report.
type Fix struct {
	Location models.Location
	Time     time.Time
}

// Reading is either a fix or an error from the source.
type Reading struct {
	Fix Fix
	Err error
}

// Source produces readings until ctx is cancelled, then closes the channel.
type Source interface {
	Watch(ctx context.Context, p Policy) <-chan Reading
}

// Feed watches a [Source] and delivers fixes and errors to callbacks.
type Feed struct {
	source Source
	policy Policy
	logger *log.Logger
	now    func() time.Time
}

// NewFeed creates a [Feed]. A nil logger discards diagnostics.
func NewFeed(source Source, policy Policy, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.New(discard{})
	}
	return &Feed{source: source, policy: policy, logger: logger, now: time.Now}
}

// Policy returns the acquisition policy in effect.
func (f *Feed) Policy() Policy { return f.policy }

// Watch starts delivering readings. onFix and onErr run serially on the feed goroutine.
//
// The returned stop function cancels the watch; it is safe to call more than once and from inside a callback.
// No callback starts after stop returns.
func (f *Feed) Watch(ctx context.Context, onFix func(Fix), onErr func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	readings := f.source.Watch(ctx, f.policy)

	var stopped atomic.Bool
	deliver := func(fn func()) {
		if !stopped.Load() {
			fn()
		}
	}

	go f.loop(ctx, readings, deliver, onFix, onErr)

	return func() {
		stopped.Store(true)
		cancel()
	}
}

func (f *Feed) loop(ctx context.Context, readings <-chan Reading, deliver func(func()), onFix func(Fix), onErr func(error)) {
	var timeout <-chan time.Time
	var timer *time.Timer
	if f.policy.Timeout > 0 {
		timer = time.NewTimer(f.policy.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	rearm := func() {
		if timer != nil {
			timer.Reset(f.policy.Timeout)
		}
	}

	var last time.Time
	deniedReported := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			f.logger.Warn("position acquisition timed out", "timeout", f.policy.Timeout)
			deliver(func() { onErr(ErrTimeout) })
			rearm()
		case r, ok := <-readings:
			if !ok {
				return
			}
			rearm()

			if r.Err != nil {
				if errors.Is(r.Err, ErrPermissionDenied) {
					if deniedReported {
						f.logger.Debug("location permission still denied")
						continue
					}
					deniedReported = true
				}
				deliver(func() { onErr(r.Err) })
				continue
			}

			if f.cached(r.Fix, last) {
				f.logger.Debug("dropping cached fix", "time", r.Fix.Time)
				continue
			}
			last = r.Fix.Time
			deliver(func() { onFix(r.Fix) })
		}
	}
}

// cached reports whether fix violates the MaximumAge policy.
func (f *Feed) cached(fix Fix, last time.Time) bool {
	if f.policy.MaximumAge == 0 {
		return !last.IsZero() && !fix.Time.After(last)
	}
	return f.now().Sub(fix.Time) > f.policy.MaximumAge
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
