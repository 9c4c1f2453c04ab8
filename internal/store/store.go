// Package store owns persistence of users, attendance records, and
// announcements behind a single interface so the decision logic never sees a
// concrete backend. The default backend is in-memory; Postgres is available
// for real deployments.
package store

import (
	"context"
	"errors"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

var (
	// ErrDuplicateUsername is returned when creating a user whose username
	// is already taken. No user is created.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrDuplicateRecord is returned when creating a second attendance
	// record for the same user and day. At most one exists per user per day.
	ErrDuplicateRecord = errors.New("attendance record already exists for this day")

	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// RecordFilter narrows record listings. Zero values mean no filtering.
type RecordFilter struct {
	UserID int64
	Date   string // YYYY-MM-DD
}

// Store is the persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]model.User, error)

	CreateRecord(ctx context.Context, r *model.AttendanceRecord) error
	UpdateRecord(ctx context.Context, r model.AttendanceRecord) error
	// LatestRecordForUser returns the user's most recent record by date, or
	// nil when the user has none.
	LatestRecordForUser(ctx context.Context, userID int64) (*model.AttendanceRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]model.AttendanceRecord, error)

	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
}
