// Package location provides tracker.Source implementations that do not need
// a device: a JSON-lines replay of recorded fixes.
package location

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"backend-fittrack/internal/tracker"

	"github.com/sirupsen/logrus"
)

type ReplayOption func(*Replay)

// WithInterval paces fixes at a fixed interval instead of their timestamps.
func WithInterval(d time.Duration) ReplayOption {
	return func(p *Replay) { p.interval = d }
}

// WithSpeed divides the gaps between recorded timestamps.
func WithSpeed(factor float64) ReplayOption {
	return func(p *Replay) {
		if factor > 0 {
			p.speed = factor
		}
	}
}

func WithReplayClock(now func() time.Time) ReplayOption {
	return func(p *Replay) { p.now = now }
}

// Replay reads one JSON fix per line:
//
//	{"latitude":..,"longitude":..,"accuracy":..,"timestamp":"RFC3339"}
type Replay struct {
	src      io.Reader
	interval time.Duration
	speed    float64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
}

func NewReplay(src io.Reader, opts ...ReplayOption) *Replay {
	p := &Replay{
		src:   src,
		speed: 1,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Replay) Watch(ctx context.Context, opts tracker.WatchOptions) (<-chan tracker.Fix, <-chan error, error) {
	fixes := make(chan tracker.Fix)
	errs := make(chan error, 1)
	go p.run(ctx, opts, fixes, errs)
	return fixes, errs, nil
}

func (p *Replay) run(ctx context.Context, opts tracker.WatchOptions, fixes chan<- tracker.Fix, errs chan<- error) {
	defer close(fixes)
	defer close(errs)

	scanner := bufio.NewScanner(p.src)
	var last time.Time
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var fix tracker.Fix
		if err := json.Unmarshal(raw, &fix); err != nil {
			logrus.WithError(err).WithField("line", line).Debug("unreadable replay line")
			if !send(ctx, errs, error(&tracker.LocationError{Code: tracker.PositionUnavailable, Message: err.Error()})) {
				return
			}
			continue
		}
		if fix.Timestamp.IsZero() {
			fix.Timestamp = p.now()
		}

		if !p.wait(ctx, opts, last, fix.Timestamp, errs) {
			return
		}
		last = fix.Timestamp

		if !send(ctx, fixes, fix) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, errs, error(&tracker.LocationError{Code: tracker.PositionUnavailable, Message: err.Error()}))
	}
}

// wait sleeps until the next fix is due, reporting a timeout each time the
// acquisition timeout elapses first.
func (p *Replay) wait(ctx context.Context, opts tracker.WatchOptions, last, next time.Time, errs chan<- error) bool {
	delay := p.interval
	if delay == 0 && !last.IsZero() && next.After(last) {
		delay = time.Duration(float64(next.Sub(last)) / p.speed)
	}

	for opts.Timeout > 0 && delay > opts.Timeout {
		if !p.sleep(ctx, opts.Timeout) {
			return false
		}
		delay -= opts.Timeout
		if !send(ctx, errs, error(&tracker.LocationError{Code: tracker.Timeout, Message: "no fix within acquisition timeout"})) {
			return false
		}
	}
	if delay > 0 {
		return p.sleep(ctx, delay)
	}
	return ctx.Err() == nil
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
