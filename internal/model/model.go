package model

import "time"

// Role distinguishes admins from teaching staff.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
)

// Status classifies a daily attendance record.
type Status string

const (
	StatusOnTime Status = "On Time"
	StatusLate   Status = "Late"
	StatusAbsent Status = "Absent"
)

// Priority ranks announcements.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Embedding is a fixed-length face descriptor produced by the external
// recognition model. It is only ever compared by distance, never equality.
type Embedding []float64

// User is an identity record. Embedding is nil until enrollment succeeds
// and is only replaced by a successful re-registration.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	Role       Role      `json:"role"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	Embedding  Embedding `json:"-"`
	Enrolled   bool      `json:"enrolled"`
}

// AttendanceRecord is one user's record for one calendar day. At most one
// exists per user per day; ClockOut is the only field set after creation.
type AttendanceRecord struct {
	ID       int64      `json:"id"`
	UserID   int64      `json:"user_id"`
	Name     string     `json:"name"`
	Date     string     `json:"date"` // YYYY-MM-DD, local time
	ClockIn  *time.Time `json:"clock_in"`
	ClockOut *time.Time `json:"clock_out"`
	Status   Status     `json:"status"`
	Remark   string     `json:"remark,omitempty"`
}

// Announcement is a read-only broadcast message.
type Announcement struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Date     string   `json:"date"`
	Priority Priority `json:"priority"`
}

// GeoPosition is a device-reported coordinate sample. Ephemeral, never stored.
type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
