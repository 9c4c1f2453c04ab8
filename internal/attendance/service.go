// Package attendance implements the clock-in/clock-out decision procedure
// and the end-of-day absent sweep.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

// EventKind classifies the outcome of a clock event.
type EventKind string

const (
	EventClockIn  EventKind = "clock_in"
	EventClockOut EventKind = "clock_out"
	EventNoOp     EventKind = "noop"
)

// Service coordinates attendance record transitions.
type Service struct {
	store      store.Store
	loc        *time.Location
	lateHour   int
	lateMinute int
}

// NewService creates a service. lateCutoff is "HH:MM" local time; clock-ins
// strictly after it are marked Late.
func NewService(st store.Store, lateCutoff string, loc *time.Location) (*Service, error) {
	var h, m int
	if _, err := fmt.Sscanf(lateCutoff, "%d:%d", &h, &m); err != nil {
		return nil, fmt.Errorf("attendance: invalid late cutoff %q: %w", lateCutoff, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return nil, fmt.Errorf("attendance: invalid late cutoff %q", lateCutoff)
	}
	return &Service{store: st, loc: loc, lateHour: h, lateMinute: m}, nil
}

// Clock records a verified clock event for the user at the given time.
//
// Same calendar day, clock-in already set: an unset clock-out is filled in
// (the only mutation of an existing record) and ClockOut is returned; a set
// clock-out means the day is complete and the call is a NoOp. Otherwise a
// fresh record is created with the lateness status decided now and never
// revisited.
func (s *Service) Clock(ctx context.Context, userID int64, userName string, now time.Time) (model.AttendanceRecord, EventKind, error) {
	now = now.In(s.loc)
	today := now.Format("2006-01-02")

	last, err := s.store.LatestRecordForUser(ctx, userID)
	if err != nil {
		return model.AttendanceRecord{}, EventNoOp, err
	}

	if last != nil && last.Date == today && last.ClockIn != nil {
		if last.ClockOut == nil {
			out := now
			last.ClockOut = &out
			if err := s.store.UpdateRecord(ctx, *last); err != nil {
				return model.AttendanceRecord{}, EventNoOp, err
			}
			return *last, EventClockOut, nil
		}
		return *last, EventNoOp, nil
	}

	in := now
	rec := model.AttendanceRecord{
		UserID:  userID,
		Name:    userName,
		Date:    today,
		ClockIn: &in,
		Status:  s.statusFor(now),
	}
	if err := s.store.CreateRecord(ctx, &rec); err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			// A concurrent session created today's record between the read
			// and the insert. Rerun against it; this time the record exists
			// and the transition takes the clock-out or no-op path.
			return s.Clock(ctx, userID, userName, now)
		}
		return model.AttendanceRecord{}, EventNoOp, err
	}
	return rec, EventClockIn, nil
}

func (s *Service) statusFor(now time.Time) model.Status {
	// Exactly on the cutoff is still on time; one second past is late.
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), s.lateHour, s.lateMinute, 0, 0, s.loc)
	if now.After(cutoff) {
		return model.StatusLate
	}
	return model.StatusOnTime
}

// History returns the user's records, newest first.
func (s *Service) History(ctx context.Context, userID int64) ([]model.AttendanceRecord, error) {
	return s.store.ListRecords(ctx, store.RecordFilter{UserID: userID})
}

// Stats summarizes a user's attendance history for the dashboard.
type Stats struct {
	Total  int `json:"total"`
	OnTime int `json:"on_time"`
	Late   int `json:"late"`
	Absent int `json:"absent"`
}

// StatsFor counts a user's records by status.
func (s *Service) StatsFor(ctx context.Context, userID int64) (Stats, error) {
	records, err := s.store.ListRecords(ctx, store.RecordFilter{UserID: userID})
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, r := range records {
		st.Total++
		switch r.Status {
		case model.StatusOnTime:
			st.OnTime++
		case model.StatusLate:
			st.Late++
		case model.StatusAbsent:
			st.Absent++
		}
	}
	return st, nil
}

// SweepAbsent marks every teacher without a record on the given day as
// Absent. It is an administrative batch job, deliberately separate from the
// clock transition, which never assigns Absent itself. Returns how many
// records were created.
func (s *Service) SweepAbsent(ctx context.Context, day string) (int, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	records, err := s.store.ListRecords(ctx, store.RecordFilter{Date: day})
	if err != nil {
		return 0, err
	}

	seen := make(map[int64]bool, len(records))
	for _, r := range records {
		seen[r.UserID] = true
	}

	marked := 0
	for _, u := range users {
		if u.Role != model.RoleTeacher || seen[u.ID] {
			continue
		}
		rec := model.AttendanceRecord{
			UserID: u.ID,
			Name:   u.Name,
			Date:   day,
			Status: model.StatusAbsent,
		}
		if err := s.store.CreateRecord(ctx, &rec); err != nil {
			// A clock-in that landed after the listing wins over Absent.
			if errors.Is(err, store.ErrDuplicateRecord) {
				continue
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}
