package face

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// FrameSource is a scoped camera acquisition: acquired when a verification
// session opens and released on every exit path.
type FrameSource interface {
	// Acquire claims the camera stream. ErrCameraAccessDenied when refused.
	Acquire(ctx context.Context) error
	// Latest returns the most recent frame, if any. Older frames are
	// overwritten, never queued.
	Latest() ([]byte, bool)
	// Release gives the camera back. Safe to call more than once.
	Release()
}

// SessionState tracks a verification session's lifecycle.
type SessionState string

const (
	StatePending  SessionState = "pending"
	StateVerified SessionState = "verified"
	StateClosed   SessionState = "closed"
)

// SessionConfig carries the matcher tunables.
type SessionConfig struct {
	Threshold    float64       // accept boundary, session verifies when score exceeds it
	Decay        float64       // score drop per no-face tick
	PollInterval time.Duration // cadence of detect-and-score against the live feed
}

// Session is one verification attempt: a polling loop scoring the live
// camera feed against a stored reference embedding. Once verified, polling
// stops and the session cannot be reused; closing without verifying has no
// side effect beyond releasing the camera.
type Session struct {
	id      string
	det     Detector
	ref     model.Embedding
	frames  FrameSource
	cfg     SessionConfig
	onMatch func(score float64)

	mu      sync.Mutex
	score   float64
	state   SessionState
	running bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession prepares a verification attempt. Fails up front when the user
// has no enrolled embedding or the models are still loading.
func NewSession(det Detector, ref model.Embedding, frames FrameSource, cfg SessionConfig, onMatch func(score float64)) (*Session, error) {
	if len(ref) == 0 {
		return nil, ErrNoBiometricEnrolled
	}
	if !det.Ready() {
		return nil, ErrModelsNotLoaded
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Decay <= 0 {
		cfg.Decay = 5
	}
	return &Session{
		id:      uuid.NewString(),
		det:     det,
		ref:     ref,
		frames:  frames,
		cfg:     cfg,
		onMatch: onMatch,
		state:   StatePending,
		done:    make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start acquires the camera and begins polling. The loop runs until the
// session verifies, Close is called, or ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	if err := s.frames.Acquire(ctx); err != nil {
		return errors.Join(ErrCameraAccessDenied, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()
	go s.loop(ctx)
	return nil
}

// Close stops polling and releases the camera. Idempotent, and safe to call
// when Start never ran or failed to acquire the camera.
func (s *Session) Close() {
	s.mu.Lock()
	running := s.running
	if !running && s.state == StatePending {
		s.state = StateClosed
	}
	cancel := s.cancel
	s.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-s.done
}

// Snapshot returns the current score, its confidence band, and the state.
func (s *Session) Snapshot() (float64, Band, SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score, BandFor(s.score, s.cfg.Threshold), s.state
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	defer s.frames.Release()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.state == StatePending {
				s.state = StateClosed
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			// Detect runs synchronously; a slow call simply drops the
			// intervening ticks, so only the newest frame is ever scored.
			if s.tick(ctx) {
				return
			}
		}
	}
}

// tick scores one frame. Returns true when the session reached Verified.
func (s *Session) tick(ctx context.Context) bool {
	frame, ok := s.frames.Latest()
	if !ok {
		s.decay()
		return false
	}

	det, err := s.det.Detect(ctx, frame)
	switch {
	case errors.Is(err, ErrNoFaceDetected):
		// Momentary detection loss: decay instead of resetting to zero.
		s.decay()
		return false
	case err != nil:
		if ctx.Err() == nil {
			log.Printf("face: detect failed mid-session: %v", err)
		}
		return false
	}

	score := Score(s.det.Distance(s.ref, det.Embedding))

	s.mu.Lock()
	s.score = score
	verified := score > s.cfg.Threshold && s.state == StatePending
	if verified {
		s.state = StateVerified
	}
	s.mu.Unlock()

	if verified && s.onMatch != nil {
		s.onMatch(score)
	}
	return verified
}

func (s *Session) decay() {
	s.mu.Lock()
	s.score -= s.cfg.Decay
	if s.score < 0 {
		s.score = 0
	}
	s.mu.Unlock()
}
