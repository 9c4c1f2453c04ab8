package store

import (
	"context"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// Seeded returns a memory store pre-populated with the demo roster,
// announcements, and the last two days of attendance. Used when no database
// backend is configured.
func Seeded(loc *time.Location) *Memory {
	m := NewMemory()
	ctx := context.Background()

	users := []model.User{
		{Username: "admin", Password: "admin123", Role: model.RoleAdmin, Name: "Admin User",
			Email: "admin@smkpu.edu.my", Department: "Administration", PhotoURL: "https://i.pravatar.cc/150?u=admin"},
		{Username: "teacher1", Password: "pass123", Role: model.RoleTeacher, Name: "Cikgu Ahmad bin Ali",
			Email: "ahmad@smkpu.edu.my", Department: "Mathematics", PhotoURL: "https://i.pravatar.cc/150?u=teacher1"},
		{Username: "teacher2", Password: "pass123", Role: model.RoleTeacher, Name: "Cikgu Siti binti Hassan",
			Email: "siti@smkpu.edu.my", Department: "Science", PhotoURL: "https://i.pravatar.cc/150?u=teacher2"},
	}
	for i := range users {
		_ = m.CreateUser(ctx, &users[i])
	}

	m.announcements = []model.Announcement{
		{ID: 1, Title: "Staff Meeting", Content: "Monthly staff meeting on Friday at 2 PM in the main hall. All staff are required to attend.",
			Date: "2024-07-15", Priority: model.PriorityHigh},
		{ID: 2, Title: "Welcome!", Content: "Welcome to the new smart attendance system. Please remember to clock in daily to track your attendance.",
			Date: "2024-07-12", Priority: model.PriorityNormal},
	}

	now := time.Now().In(loc)
	seedRecord := func(u model.User, daysAgo int, in, out string, status model.Status, remark string) {
		day := now.AddDate(0, 0, -daysAgo)
		r := model.AttendanceRecord{
			UserID: u.ID,
			Name:   u.Name,
			Date:   day.Format("2006-01-02"),
			Status: status,
			Remark: remark,
		}
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", day.Format("2006-01-02")+" "+in, loc); err == nil {
			r.ClockIn = &t
		}
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", day.Format("2006-01-02")+" "+out, loc); err == nil {
			r.ClockOut = &t
		}
		_ = m.CreateRecord(ctx, &r)
	}

	seedRecord(users[1], 1, "07:15:30", "16:30:10", model.StatusOnTime, "")
	seedRecord(users[2], 1, "07:45:12", "16:40:00", model.StatusLate, "Heavy Traffic")
	seedRecord(users[1], 2, "07:20:00", "16:25:00", model.StatusOnTime, "")
	seedRecord(users[2], 2, "07:25:00", "16:35:00", model.StatusOnTime, "")

	return m
}
