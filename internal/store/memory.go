package store

import (
	"context"
	"sort"
	"sync"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// Memory is the default in-process store. All access goes through one mutex;
// callers only ever see copies, never the backing slices.
type Memory struct {
	mu            sync.RWMutex
	users         []model.User
	records       []model.AttendanceRecord
	announcements []model.Announcement
	nextUserID    int64
	nextRecordID  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextUserID: 1, nextRecordID: 1}
}

func (m *Memory) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	u.ID = m.nextUserID
	m.nextUserID++
	m.users = append(m.users, cloneUser(*u))
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.users {
		if existing.ID == u.ID {
			if existing.Username != u.Username {
				for _, other := range m.users {
					if other.ID != u.ID && other.Username == u.Username {
						return ErrDuplicateUsername
					}
				}
			}
			m.users[i] = cloneUser(u)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.users {
		if u.ID == id {
			m.users = append(m.users[:i], m.users[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListUsers(ctx context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

func (m *Memory) CreateRecord(ctx context.Context, r *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same guarantee as the UNIQUE (user_id, date) constraint in Postgres.
	for _, existing := range m.records {
		if existing.UserID == r.UserID && existing.Date == r.Date {
			return ErrDuplicateRecord
		}
	}
	r.ID = m.nextRecordID
	m.nextRecordID++
	m.records = append(m.records, *r)
	return nil
}

func (m *Memory) UpdateRecord(ctx context.Context, r model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.records {
		if existing.ID == r.ID {
			m.records[i] = r
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) LatestRecordForUser(ctx context.Context, userID int64) (*model.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.AttendanceRecord
	for i := range m.records {
		r := m.records[i]
		if r.UserID != userID {
			continue
		}
		// Dates are YYYY-MM-DD, so string order is date order.
		if latest == nil || r.Date > latest.Date || (r.Date == latest.Date && r.ID > latest.ID) {
			c := r
			latest = &c
		}
	}
	return latest, nil
}

func (m *Memory) ListRecords(ctx context.Context, f RecordFilter) ([]model.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AttendanceRecord
	for _, r := range m.records {
		if f.UserID != 0 && r.UserID != f.UserID {
			continue
		}
		if f.Date != "" && r.Date != f.Date {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Announcement, len(m.announcements))
	copy(out, m.announcements)
	return out, nil
}

func cloneUser(u model.User) model.User {
	u.Enrolled = len(u.Embedding) > 0
	if u.Embedding != nil {
		emb := make(model.Embedding, len(u.Embedding))
		copy(emb, u.Embedding)
		u.Embedding = emb
	}
	return u
}
