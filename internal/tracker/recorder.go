package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"backend-fittrack/internal/shared/geo"

	"github.com/sirupsen/logrus"
)

// Source delivers location fixes in non-decreasing time order until ctx is
// cancelled. Either channel may be closed by the source when it has nothing
// more to send.
type Source interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, <-chan error, error)
}

type Option func(*Recorder)

func WithSource(src Source) Option {
	return func(r *Recorder) { r.source = src }
}

func WithBodyWeight(kg float64) Option {
	return func(r *Recorder) { r.weightKg = kg }
}

func WithWatchOptions(opts WatchOptions) Option {
	return func(r *Recorder) { r.watchOpts = opts }
}

// WithErrorHandler receives location errors after they are logged.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Recorder) { r.onError = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func WithLogger(log *logrus.Entry) Option {
	return func(r *Recorder) { r.log = log }
}

// Recorder accumulates distance and calories from a stream of fixes. Without
// a Source it is fed directly through Record.
type Recorder struct {
	mu sync.Mutex

	source    Source
	watchOpts WatchOptions
	weightKg  float64
	onError   func(error)
	now       func() time.Time
	log       *logrus.Entry

	state     State
	startedAt time.Time
	prev      *Point
	path      []Point
	distKm    float64
	kcal      float64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		watchOpts: DefaultWatchOptions(),
		weightKg:  DefaultBodyWeightKg,
		now:       time.Now,
		log:       logrus.WithField("component", "tracker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.weightKg <= 0 {
		r.weightKg = DefaultBodyWeightKg
	}
	return r
}

// Start begins a fresh accumulation and subscribes to the source, if any.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Tracking {
		return ErrAlreadyTracking
	}

	r.prev = nil
	r.path = nil
	r.distKm = 0
	r.kcal = 0
	r.startedAt = r.now()

	if r.source != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		fixes, errs, err := r.source.Watch(watchCtx, r.watchOpts)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe location: %w", err)
		}
		r.cancel = cancel
		r.done = make(chan struct{})
		go r.consume(watchCtx, fixes, errs, r.done)
	}

	r.state = Tracking
	r.log.WithField("body_weight_kg", r.weightKg).Debug("tracking started")
	return nil
}

// Stop cancels the subscription, waits for it to drain and returns the final
// snapshot. The snapshot stays readable until the next Start.
func (r *Recorder) Stop() (Snapshot, error) {
	r.mu.Lock()
	if r.state != Tracking {
		r.mu.Unlock()
		return Snapshot{}, ErrNotTracking
	}
	r.state = Idle
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.log.WithFields(logrus.Fields{
		"points":      len(snap.Path),
		"distance_km": snap.TotalDistanceKm,
		"kcal":        snap.CaloriesKcal,
	}).Debug("tracking stopped")
	return snap, nil
}

// Record applies one fix. Fixes arriving while idle are rejected.
func (r *Recorder) Record(fix Fix) (Progress, error) {
	if !validFix(fix) {
		return Progress{}, ErrInvalidFix
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Tracking {
		return Progress{}, ErrNotTracking
	}

	next := fix.Point()
	progress := r.advanceLocked(next)
	r.distKm = progress.TotalDistanceKm
	r.kcal = progress.CaloriesKcal
	r.path = append(r.path, next)
	r.prev = &next
	return progress, nil
}

// Preview returns the progress Record would report for fix without applying
// it, so callers can persist a fix before committing it to the recorder.
func (r *Recorder) Preview(fix Fix) (Progress, error) {
	if !validFix(fix) {
		return Progress{}, ErrInvalidFix
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Tracking {
		return Progress{}, ErrNotTracking
	}
	return r.advanceLocked(fix.Point()), nil
}

func (r *Recorder) advanceLocked(next Point) Progress {
	dist := r.distKm
	if r.prev != nil {
		dist += geo.DistanceM(r.prev.Lat, r.prev.Lng, next.Lat, next.Lng) / 1000
	}
	return Progress{
		Samples:         len(r.path) + 1,
		TotalDistanceKm: dist,
		CaloriesKcal:    Calories(dist, r.weightKg),
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Finished is closed when the current subscription ends, either because the
// source closed its fix channel or because tracking stopped. It is nil when
// the recorder has no source or is idle.
func (r *Recorder) Finished() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recorder) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           r.state,
		Active:          r.state == Tracking,
		StartedAt:       r.startedAt,
		Path:            append([]Point(nil), r.path...),
		TotalDistanceKm: r.distKm,
		CaloriesKcal:    r.kcal,
		BodyWeightKg:    r.weightKg,
	}
	if r.prev != nil {
		prev := *r.prev
		snap.Previous = &prev
	}
	return snap
}

func (r *Recorder) consume(ctx context.Context, fixes <-chan Fix, errs <-chan error, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if _, err := r.Record(fix); err != nil {
				if errors.Is(err, ErrNotTracking) {
					return
				}
				r.log.WithError(err).Warn("dropping location fix")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.reportLocationError(err)
		}
	}
}

func (r *Recorder) reportLocationError(err error) {
	entry := r.log.WithError(err)
	var locErr *LocationError
	if errors.As(err, &locErr) {
		entry = entry.WithField("code", locErr.Code.String())
	}
	entry.Warn("location update failed")
	if r.onError != nil {
		r.onError(err)
	}
}

func validFix(fix Fix) bool {
	if math.IsNaN(fix.Latitude) || math.IsNaN(fix.Longitude) {
		return false
	}
	return fix.Latitude >= -90 && fix.Latitude <= 90 && fix.Longitude >= -180 && fix.Longitude <= 180
}
