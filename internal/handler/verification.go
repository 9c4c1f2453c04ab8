package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/attendance"
	"github.com/luqmand1/TeacherClockMy/internal/face"
	"github.com/luqmand1/TeacherClockMy/internal/geofence"
	"github.com/luqmand1/TeacherClockMy/internal/metrics"
	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/queue"
)

// frameMailbox adapts the device's posted camera frames to face.FrameSource.
// It holds only the newest frame; older ones are overwritten, never queued.
type frameMailbox struct {
	mu    sync.Mutex
	frame []byte
	open  bool
}

func (m *frameMailbox) Acquire(ctx context.Context) error {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	return nil
}

func (m *frameMailbox) Latest() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open || m.frame == nil {
		return nil, false
	}
	return m.frame, true
}

func (m *frameMailbox) Release() {
	m.mu.Lock()
	m.open = false
	m.frame = nil
	m.mu.Unlock()
}

// Push stores a frame. Dropped once the session has released the stream.
func (m *frameMailbox) Push(frame []byte) {
	m.mu.Lock()
	if m.open {
		m.frame = frame
	}
	m.mu.Unlock()
}

// positionFeed adapts posted position updates to geofence.Source with
// last-write-wins semantics.
type positionFeed struct {
	ch chan geofence.Sample
}

func newPositionFeed() *positionFeed {
	return &positionFeed{ch: make(chan geofence.Sample, 1)}
}

func (f *positionFeed) Watch(ctx context.Context) (<-chan geofence.Sample, error) {
	return f.ch, nil
}

// Push replaces any pending sample with the newest one.
func (f *positionFeed) Push(s geofence.Sample) {
	for {
		select {
		case f.ch <- s:
			return
		default:
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

// clockOutcome is the attendance result attached to a verified session.
type clockOutcome struct {
	Kind     attendance.EventKind    `json:"kind"`
	Record   *model.AttendanceRecord `json:"record,omitempty"`
	Score    float64                 `json:"score"`
	Rejected string                  `json:"rejected,omitempty"`
}

// liveSession bundles one verification attempt with its camera mailbox and
// geofence watcher.
type liveSession struct {
	userID    int64
	userName  string
	sess      *face.Session
	frames    *frameMailbox
	positions *positionFeed
	geo       *geofence.Evaluator
	cancel    context.CancelFunc
	createdAt time.Time

	mu      sync.Mutex
	outcome *clockOutcome
}

func (ls *liveSession) setOutcome(o clockOutcome) {
	ls.mu.Lock()
	ls.outcome = &o
	ls.mu.Unlock()
}

func (ls *liveSession) getOutcome() *clockOutcome {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.outcome
}

// sessionManager tracks open verification sessions and expires abandoned
// ones so cameras never stay acquired indefinitely.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
	ttl      time.Duration
}

func newSessionManager(ttl time.Duration) *sessionManager {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &sessionManager{sessions: make(map[string]*liveSession), ttl: ttl}
}

func (sm *sessionManager) add(id string, ls *liveSession) {
	sm.mu.Lock()
	sm.sessions[id] = ls
	sm.mu.Unlock()
}

func (sm *sessionManager) get(id string) (*liveSession, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ls, ok := sm.sessions[id]
	return ls, ok
}

// remove closes and forgets a session. Safe on already-finished sessions.
func (sm *sessionManager) remove(id string) (*liveSession, bool) {
	sm.mu.Lock()
	ls, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return nil, false
	}
	ls.cancel()
	ls.sess.Close()
	return ls, true
}

// sweep runs until ctx is cancelled, expiring sessions past their TTL.
func (sm *sessionManager) sweep(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sm.mu.Lock()
			for id, ls := range sm.sessions {
				delete(sm.sessions, id)
				ls.cancel()
				go ls.sess.Close()
			}
			sm.mu.Unlock()
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-sm.ttl)
			sm.mu.Lock()
			var expired []string
			for id, ls := range sm.sessions {
				if ls.createdAt.Before(cutoff) {
					expired = append(expired, id)
				}
			}
			sm.mu.Unlock()
			for _, id := range expired {
				log.Printf("verification session %s expired", id)
				sm.remove(id)
				metrics.Verifications.WithLabelValues("expired").Inc()
			}
		}
	}
}

// onVerified records the clock event for a session that just matched. The
// geofence verdict is consulted once more so a device that wandered out of
// range mid-session still fails closed.
func (h *Handler) onVerified(ls *liveSession, score float64) {
	if !ls.geo.WithinRange() {
		ls.setOutcome(clockOutcome{Score: score, Rejected: "outside school range"})
		metrics.Verifications.WithLabelValues("rejected").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, kind, err := h.attendance.Clock(ctx, ls.userID, ls.userName, time.Now())
	if err != nil {
		log.Printf("clock event for user %d failed: %v", ls.userID, err)
		ls.setOutcome(clockOutcome{Score: score, Rejected: "attendance update failed"})
		return
	}

	ls.setOutcome(clockOutcome{Kind: kind, Record: &rec, Score: score})
	metrics.Verifications.WithLabelValues("verified").Inc()
	metrics.ClockEvents.WithLabelValues(string(kind), string(rec.Status)).Inc()

	if err := h.queue.Publish(ctx, queue.ClockEvent{
		UserID:   ls.userID,
		UserName: ls.userName,
		Kind:     string(kind),
		Date:     rec.Date,
		Status:   string(rec.Status),
		Score:    score,
		At:       time.Now().Format(time.RFC3339),
	}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
