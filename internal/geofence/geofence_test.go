package geofence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

var school = model.GeoPosition{Latitude: 2.9839351, Longitude: 101.6105881}

// offsetNorth returns a point roughly meters north of p. One degree of
// latitude is about 111,320 m.
func offsetNorth(p model.GeoPosition, meters float64) model.GeoPosition {
	return model.GeoPosition{Latitude: p.Latitude + meters/111320, Longitude: p.Longitude}
}

func TestDistanceZeroAtSamePoint(t *testing.T) {
	require.InDelta(t, 0, Distance(school, school), 1e-9)
}

func TestDistanceSymmetric(t *testing.T) {
	b := offsetNorth(school, 250)
	require.InDelta(t, Distance(school, b), Distance(b, school), 1e-9)
}

func TestWithinRangeAtReferencePoint(t *testing.T) {
	require.True(t, WithinRange(school, school, 0))
	require.True(t, WithinRange(school, school, 100))
}

func TestWithinRangeBoundary(t *testing.T) {
	near := offsetNorth(school, 50)
	far := offsetNorth(school, 150)

	require.True(t, WithinRange(near, school, 100))
	require.False(t, WithinRange(far, school, 100))
}

func TestWithinRangeMonotonic(t *testing.T) {
	// Increasing distance never flips out-of-range back to in-range.
	wasWithin := true
	for _, meters := range []float64{0, 25, 50, 99, 101, 200, 1000, 50000} {
		within := WithinRange(offsetNorth(school, meters), school, 100)
		if !wasWithin {
			require.False(t, within, "range flipped back at %g m", meters)
		}
		wasWithin = within
	}
}

type fakeSource struct {
	ch  chan Sample
	err error
}

func (f *fakeSource) Watch(ctx context.Context) (<-chan Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func TestEvaluatorFailsClosedOnSourceError(t *testing.T) {
	e := NewEvaluator(school, 100, time.Second)
	err := e.Watch(context.Background(), &fakeSource{err: errors.New("permission denied")})
	require.ErrorIs(t, err, ErrLocationUnavailable)
	require.False(t, e.WithinRange())
}

func TestEvaluatorFailsClosedOnTimeout(t *testing.T) {
	e := NewEvaluator(school, 100, 10*time.Millisecond)
	src := &fakeSource{ch: make(chan Sample)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Watch(ctx, src)
		close(done)
	}()

	require.Eventually(t, func() bool { return !e.WithinRange() }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestEvaluatorTracksSamples(t *testing.T) {
	e := NewEvaluator(school, 100, time.Second)
	src := &fakeSource{ch: make(chan Sample, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = e.Watch(ctx, src)
		close(done)
	}()

	require.False(t, e.WithinRange(), "fail closed before any sample")

	src.ch <- Sample{Position: school}
	require.Eventually(t, e.WithinRange, time.Second, 5*time.Millisecond)

	src.ch <- Sample{Position: offsetNorth(school, 500)}
	require.Eventually(t, func() bool { return !e.WithinRange() }, time.Second, 5*time.Millisecond)

	// An errored sample resolves to out-of-range, not to the last verdict.
	src.ch <- Sample{Position: school}
	require.Eventually(t, e.WithinRange, time.Second, 5*time.Millisecond)
	src.ch <- Sample{Err: errors.New("gps lost")}
	require.Eventually(t, func() bool { return !e.WithinRange() }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
