package face

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// fakeDetector returns a scripted distance, or no face at all.
type fakeDetector struct {
	mu       sync.Mutex
	distance float64
	noFace   bool
	ready    bool
}

func (d *fakeDetector) Detect(ctx context.Context, image []byte) (*Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.noFace {
		return nil, ErrNoFaceDetected
	}
	return &Detection{Embedding: model.Embedding{d.distance}, Confidence: 0.9}, nil
}

func (d *fakeDetector) Distance(a, b model.Embedding) float64 {
	// The probe embedding carries the scripted distance.
	return b[0]
}

func (d *fakeDetector) Ready() bool { return d.ready }

func (d *fakeDetector) set(distance float64, noFace bool) {
	d.mu.Lock()
	d.distance = distance
	d.noFace = noFace
	d.mu.Unlock()
}

type fakeFrames struct {
	mu       sync.Mutex
	acquired bool
	released bool
	denied   bool
}

func (f *fakeFrames) Acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return ErrCameraAccessDenied
	}
	f.acquired = true
	return nil
}

func (f *fakeFrames) Latest() ([]byte, bool) { return []byte("frame"), true }

func (f *fakeFrames) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *fakeFrames) wasReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func testConfig() SessionConfig {
	return SessionConfig{Threshold: 65, Decay: 5, PollInterval: 2 * time.Millisecond}
}

func TestSessionRequiresEnrollment(t *testing.T) {
	det := &fakeDetector{ready: true}
	_, err := NewSession(det, nil, &fakeFrames{}, testConfig(), nil)
	require.ErrorIs(t, err, ErrNoBiometricEnrolled)
}

func TestSessionRequiresLoadedModels(t *testing.T) {
	det := &fakeDetector{ready: false}
	_, err := NewSession(det, model.Embedding{0.1}, &fakeFrames{}, testConfig(), nil)
	require.ErrorIs(t, err, ErrModelsNotLoaded)
}

func TestSessionCameraDenied(t *testing.T) {
	det := &fakeDetector{ready: true}
	s, err := NewSession(det, model.Embedding{0.1}, &fakeFrames{denied: true}, testConfig(), nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.Start(context.Background()), ErrCameraAccessDenied)

	// Close after a failed start must return, not wait on the poll loop.
	requireCloseReturns(t, s)
	_, _, state := s.Snapshot()
	require.Equal(t, StateClosed, state)
}

func TestSessionCloseBeforeStart(t *testing.T) {
	det := &fakeDetector{ready: true}
	s, err := NewSession(det, model.Embedding{0.1}, &fakeFrames{}, testConfig(), nil)
	require.NoError(t, err)

	requireCloseReturns(t, s)
	_, _, state := s.Snapshot()
	require.Equal(t, StateClosed, state)
}

func requireCloseReturns(t *testing.T, s *Session) {
	t.Helper()
	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestSessionVerifiesAndAutoCloses(t *testing.T) {
	det := &fakeDetector{ready: true, distance: 0.2} // score 80 > 65
	frames := &fakeFrames{}

	matched := make(chan float64, 1)
	s, err := NewSession(det, model.Embedding{1}, frames, testConfig(), func(score float64) {
		matched <- score
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case score := <-matched:
		require.InDelta(t, 80, score, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("session never verified")
	}

	_, band, state := s.Snapshot()
	require.Equal(t, StateVerified, state)
	require.Equal(t, BandMatch, band)
	require.Eventually(t, frames.wasReleased, time.Second, time.Millisecond)

	// Single attempt per open: the callback fires exactly once.
	s.Close()
	require.Empty(t, matched)
}

func TestSessionMediumNeverVerifies(t *testing.T) {
	det := &fakeDetector{ready: true, distance: 0.5} // score 50: medium band
	frames := &fakeFrames{}

	s, err := NewSession(det, model.Embedding{1}, frames, testConfig(), func(float64) {
		t.Error("medium score must not verify")
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		score, band, _ := s.Snapshot()
		return score == 50 && band == BandMedium
	}, time.Second, time.Millisecond)

	s.Close()
	_, _, state := s.Snapshot()
	require.Equal(t, StateClosed, state)
	require.True(t, frames.wasReleased())
}

func TestSessionDecaysWhenFaceLost(t *testing.T) {
	det := &fakeDetector{ready: true, distance: 0.4} // score 60, below threshold
	frames := &fakeFrames{}

	s, err := NewSession(det, model.Embedding{1}, frames, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		score, _, _ := s.Snapshot()
		return score == 60
	}, time.Second, time.Millisecond)

	// Losing the face decays the score by 5 per tick down to zero, never
	// resetting it outright.
	det.set(0, true)
	require.Eventually(t, func() bool {
		score, _, _ := s.Snapshot()
		return score <= 55 && score > 0
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		score, _, _ := s.Snapshot()
		return score == 0
	}, time.Second, time.Millisecond)

	s.Close()
}

func TestSessionCloseWithoutVerifyHasNoEffect(t *testing.T) {
	det := &fakeDetector{ready: true, distance: 0.9} // score 10
	frames := &fakeFrames{}

	called := false
	s, err := NewSession(det, model.Embedding{1}, frames, testConfig(), func(float64) { called = true })
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	s.Close()

	require.False(t, called)
	_, _, state := s.Snapshot()
	require.Equal(t, StateClosed, state)
	require.True(t, frames.wasReleased())
}
