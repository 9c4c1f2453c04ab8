package geofence

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// ErrLocationUnavailable signals that the device cannot supply a position.
// Callers must treat it as out-of-range (fail closed).
var ErrLocationUnavailable = errors.New("location unavailable")

const earthRadiusMeters = 6371000

// Distance returns the great-circle distance in meters between two
// coordinates using the haversine formula.
func Distance(a, b model.GeoPosition) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	dPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	dLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// WithinRange reports whether current lies inside the circular boundary
// around reference.
func WithinRange(current, reference model.GeoPosition, radiusMeters float64) bool {
	return Distance(current, reference) <= radiusMeters
}

// Sample is one position update from a device subscription. Err is set when
// the device reported a failure (permission denied, hardware error).
type Sample struct {
	Position model.GeoPosition
	Err      error
}

// Source is a continuous, cancellable position subscription.
type Source interface {
	Watch(ctx context.Context) (<-chan Sample, error)
}

// Evaluator tracks whether the device is inside the school geofence. The
// verdict starts false and stays false until a sample proves otherwise; an
// errored sample or an acquisition timeout also resolves to false.
type Evaluator struct {
	reference model.GeoPosition
	radius    float64
	timeout   time.Duration

	mu     sync.RWMutex
	within bool
}

// NewEvaluator creates an evaluator for a fixed reference point and radius.
// timeout bounds the initial position acquisition.
func NewEvaluator(reference model.GeoPosition, radiusMeters float64, timeout time.Duration) *Evaluator {
	return &Evaluator{reference: reference, radius: radiusMeters, timeout: timeout}
}

// Check evaluates a single position against the boundary without touching
// the watched state.
func (e *Evaluator) Check(current model.GeoPosition) bool {
	return WithinRange(current, e.reference, e.radius)
}

// WithinRange returns the latest verdict. False until the first good sample.
func (e *Evaluator) WithinRange() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.within
}

// Watch consumes position samples until ctx is cancelled, recomputing the
// verdict on each one. Samples are last-write-wins; there is no queuing. If
// no sample arrives within the acquisition timeout the verdict resolves to
// false rather than staying undecided.
func (e *Evaluator) Watch(ctx context.Context, src Source) error {
	samples, err := src.Watch(ctx)
	if err != nil {
		e.set(false)
		return ErrLocationUnavailable
	}

	acquire := time.NewTimer(e.timeout)
	defer acquire.Stop()
	resolved := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-acquire.C:
			if !resolved {
				resolved = true
				e.set(false)
			}
		case s, ok := <-samples:
			if !ok {
				e.set(false)
				return ErrLocationUnavailable
			}
			resolved = true
			if s.Err != nil {
				e.set(false)
				continue
			}
			e.set(e.Check(s.Position))
		}
	}
}

func (e *Evaluator) set(within bool) {
	e.mu.Lock()
	e.within = within
	e.mu.Unlock()
}
