package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/luqmand1/TeacherClockMy/internal/attendance"
	"github.com/luqmand1/TeacherClockMy/internal/config"
	"github.com/luqmand1/TeacherClockMy/internal/face"
	"github.com/luqmand1/TeacherClockMy/internal/identity"
	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/queue"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

type stubDetector struct {
	ready bool
}

func (d *stubDetector) Detect(ctx context.Context, image []byte) (*face.Detection, error) {
	return &face.Detection{Embedding: model.Embedding{0.1, 0.2}}, nil
}

func (d *stubDetector) Distance(a, b model.Embedding) float64 { return face.EuclideanDistance(a, b) }

func (d *stubDetector) Ready() bool { return d.ready }

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		JWTIssuer:       "test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		SchoolLat:       2.9839351,
		SchoolLon:       101.6105881,
		GeofenceRadiusM: 100,
		LocationTimeout: time.Second,
		MatchThreshold:  65,
		PollInterval:    5 * time.Millisecond,
		ScoreDecay:      5,
		SessionTTL:      time.Minute,
		Timezone:        "UTC",
	}

	st := store.Seeded(time.UTC)
	att, err := attendance.NewService(st, "07:20", time.UTC)
	require.NoError(t, err)
	id := identity.NewService(st, &stubDetector{ready: true}, nil)

	h := New(cfg, st, id, att, &stubDetector{ready: true}, queue.NewInMemory(8))

	r := gin.New()
	h.Routes(r)
	return r, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func loginAs(t *testing.T, r *gin.Engine, username, password string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", gin.H{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestErrorStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusConflict, errorStatus(store.ErrDuplicateUsername))
	require.Equal(t, http.StatusBadRequest, errorStatus(fmt.Errorf("%w: password too short", identity.ErrValidation)))
	// Anything outside the taxonomy is an infrastructure failure.
	require.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("connection refused")))
	require.Equal(t, http.StatusInternalServerError, errorStatus(fmt.Errorf("query failed: %w", context.DeadlineExceeded)))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", gin.H{
		"username": "teacher1",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeAndAttendanceRequireAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	require.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodGet, "/v1/me", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodGet, "/v1/attendance", "", nil).Code)
}

func TestTeacherSeesOwnProfileAndHistory(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "teacher1", "pass123")

	w := doJSON(t, r, http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "teacher1", me.Username)

	w = doJSON(t, r, http.MethodGet, "/v1/attendance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Records, 2)
	for _, rec := range hist.Records {
		require.Equal(t, me.ID, rec.UserID)
	}
}

func TestAdminRoutesRejectTeachers(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "teacher1", "pass123")

	require.Equal(t, http.StatusForbidden, doJSON(t, r, http.MethodGet, "/v1/admin/users", token, nil).Code)
}

func TestAdminUserCRUD(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "admin", "admin123")

	w := doJSON(t, r, http.MethodPost, "/v1/admin/users", token, gin.H{
		"username": "teacher3",
		"password": "pass123",
		"name":     "Cikgu Three",
		"email":    "three@school.my",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, model.RoleTeacher, created.Role)
	require.False(t, created.Enrolled)

	// Duplicate username conflicts.
	w = doJSON(t, r, http.MethodPost, "/v1/admin/users", token, gin.H{
		"username": "teacher3",
		"password": "pass123",
		"name":     "Clone",
		"email":    "clone@school.my",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/v1/admin/users/%d", created.ID), token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/v1/admin/users/%d", created.ID), token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRecordsFilterAndExport(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "admin", "admin123")

	w := doJSON(t, r, http.MethodGet, "/v1/admin/records", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all.Records, 4)

	day := all.Records[0].Date
	w = doJSON(t, r, http.MethodGet, "/v1/admin/records?date="+day, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var byDay struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byDay))
	require.Len(t, byDay.Records, 2)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/records/export", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	require.Contains(t, w.Body.String(), "id,user_id,name,date,clock_in,clock_out,status,remark")
}

func TestOpenSessionOutsideRangeForbidden(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "teacher1", "pass123")

	// Kuala Lumpur city centre, well outside the school radius.
	w := doJSON(t, r, http.MethodPost, "/v1/verification/sessions", token, gin.H{
		"latitude":  3.1390,
		"longitude": 101.6869,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestOpenSessionWithoutLocationForbidden(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "teacher1", "pass123")

	w := doJSON(t, r, http.MethodPost, "/v1/verification/sessions", token, gin.H{})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestOpenSessionWithoutEnrollment(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginAs(t, r, "teacher2", "pass123")

	w := doJSON(t, r, http.MethodPost, "/v1/verification/sessions", token, gin.H{
		"latitude":  2.9839351,
		"longitude": 101.6105881,
	})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestSessionOwnershipEnforced(t *testing.T) {
	r, st := newTestRouter(t)
	enroll(t, st, "teacher1")
	token := loginAs(t, r, "teacher1", "pass123")

	w := doJSON(t, r, http.MethodPost, "/v1/verification/sessions", token, gin.H{
		"latitude":  2.9839351,
		"longitude": 101.6105881,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))

	other := loginAs(t, r, "admin", "admin123")
	w = doJSON(t, r, http.MethodGet, "/v1/verification/sessions/"+opened.SessionID, other, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/v1/verification/sessions/"+opened.SessionID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/verification/sessions/"+opened.SessionID, token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func enroll(t *testing.T, st *store.Memory, username string) {
	t.Helper()
	u, err := st.GetUserByUsername(context.Background(), username)
	require.NoError(t, err)
	u.Embedding = model.Embedding{0.1, 0.2}
	require.NoError(t, st.UpdateUser(context.Background(), *u))
}
