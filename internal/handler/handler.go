// Package handler exposes the HTTP surface: auth, attendance, verification
// sessions, announcements, and the admin roster.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luqmand1/TeacherClockMy/internal/attendance"
	"github.com/luqmand1/TeacherClockMy/internal/auth"
	"github.com/luqmand1/TeacherClockMy/internal/config"
	"github.com/luqmand1/TeacherClockMy/internal/face"
	"github.com/luqmand1/TeacherClockMy/internal/geofence"
	"github.com/luqmand1/TeacherClockMy/internal/identity"
	"github.com/luqmand1/TeacherClockMy/internal/metrics"
	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/queue"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

// Handler carries the service dependencies for all routes.
type Handler struct {
	cfg        config.App
	store      store.Store
	identity   *identity.Service
	attendance *attendance.Service
	detector   face.Detector
	queue      queue.Queue
	sessions   *sessionManager
	school     model.GeoPosition
}

// New wires a handler.
func New(cfg config.App, st store.Store, id *identity.Service, att *attendance.Service, det face.Detector, q queue.Queue) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      st,
		identity:   id,
		attendance: att,
		detector:   det,
		queue:      q,
		sessions:   newSessionManager(cfg.SessionTTL),
		school:     model.GeoPosition{Latitude: cfg.SchoolLat, Longitude: cfg.SchoolLon},
	}
}

// Start launches background upkeep (session expiry) until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) {
	go h.sessions.sweep(ctx)
}

// Routes registers all endpoints on the engine.
func (h *Handler) Routes(r *gin.Engine) {
	r.POST("/v1/auth/register", h.register)
	r.POST("/v1/auth/login", h.login)
	r.POST("/v1/auth/refresh", h.refresh)

	authed := r.Group("/v1", auth.UserAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	authed.GET("/me", h.me)
	authed.PUT("/me", h.updateMe)
	authed.GET("/announcements", h.announcements)
	authed.GET("/attendance", h.myAttendance)
	authed.GET("/attendance/stats", h.myStats)

	authed.POST("/verification/sessions", h.openSession)
	authed.POST("/verification/sessions/:id/frames", h.pushFrame)
	authed.GET("/verification/sessions/:id", h.sessionStatus)
	authed.DELETE("/verification/sessions/:id", h.closeSession)

	admin := authed.Group("/admin", auth.RequireAdmin())
	admin.GET("/users", h.adminListUsers)
	admin.POST("/users", h.adminCreateUser)
	admin.PUT("/users/:id", h.adminUpdateUser)
	admin.DELETE("/users/:id", h.adminDeleteUser)
	admin.GET("/records", h.adminListRecords)
	admin.GET("/records/export", h.adminExportRecords)
}

// ---------- Auth ----------

type registerRequest struct {
	Name            string `form:"name" binding:"required"`
	Email           string `form:"email" binding:"required,email"`
	Department      string `form:"department" binding:"required"`
	Username        string `form:"username" binding:"required"`
	Password        string `form:"password" binding:"required"`
	ConfirmPassword string `form:"confirm_password" binding:"required"`
}

// register creates a teacher account. Expects a multipart form with the
// profile fields and a "photo" file used for face enrollment.
func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password != req.ConfirmPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a profile photo is required for face recognition"})
		return
	}
	defer file.Close()
	photo, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read photo"})
		return
	}

	u, err := h.identity.Register(c.Request.Context(), identity.Registration{
		Username:   req.Username,
		Password:   req.Password,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Photo:      photo,
		PhotoName:  header.Filename,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.identity.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(u, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"user":          u,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := auth.Parse(req.RefreshToken, h.cfg.JWTSigningKey, h.cfg.JWTIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	id, err := claims.UserID()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	u, err := h.identity.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	tokens, err := auth.Issue(u, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Profile ----------

func (h *Handler) me(c *gin.Context) {
	u, err := h.identity.Get(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) updateMe(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		Email      string `json:"email"`
		Department string `json:"department"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.identity.UpdateProfile(c.Request.Context(), currentUserID(c), req.Name, req.Email, req.Department)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---------- Announcements & history ----------

func (h *Handler) announcements(c *gin.Context) {
	items, err := h.store.ListAnnouncements(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"announcements": items})
}

func (h *Handler) myAttendance(c *gin.Context) {
	records, err := h.attendance.History(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) myStats(c *gin.Context) {
	stats, err := h.attendance.StatsFor(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ---------- Verification ----------

type openSessionRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// openSession starts a verification attempt. Clock-in is offered only
// inside the school geofence; a missing or unparseable position fails
// closed.
func (h *Handler) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "location unavailable, clock-in disallowed"})
		return
	}

	pos := model.GeoPosition{Latitude: *req.Latitude, Longitude: *req.Longitude}
	geo := geofence.NewEvaluator(h.school, h.cfg.GeofenceRadiusM, h.cfg.LocationTimeout)
	if !geo.Check(pos) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are outside school range"})
		return
	}

	u, err := h.identity.Get(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ls := &liveSession{
		userID:    u.ID,
		userName:  u.Name,
		frames:    &frameMailbox{},
		positions: newPositionFeed(),
		geo:       geo,
		createdAt: time.Now(),
	}

	sess, err := face.NewSession(h.detector, u.Embedding, ls.frames, face.SessionConfig{
		Threshold:    h.cfg.MatchThreshold,
		Decay:        h.cfg.ScoreDecay,
		PollInterval: h.cfg.PollInterval,
	}, func(score float64) { h.onVerified(ls, score) })
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ls.sess = sess

	ctx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	go func() { _ = geo.Watch(ctx, ls.positions) }()
	ls.positions.Push(geofence.Sample{Position: pos})

	if err := sess.Start(ctx); err != nil {
		cancel()
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	h.sessions.add(sess.ID(), ls)
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID(), "state": face.StatePending})
}

type frameRequest struct {
	Frame     string   `json:"frame" binding:"required"` // base64 image
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// pushFrame feeds the newest camera frame (and optionally a fresh position)
// into an open session, then reports its state.
func (h *Handler) pushFrame(c *gin.Context) {
	ls, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame must be base64"})
		return
	}
	ls.frames.Push(frame)

	if req.Latitude != nil && req.Longitude != nil {
		ls.positions.Push(geofence.Sample{Position: model.GeoPosition{
			Latitude: *req.Latitude, Longitude: *req.Longitude,
		}})
	}

	h.renderSession(c, ls)
}

func (h *Handler) sessionStatus(c *gin.Context) {
	ls, ok := h.ownedSession(c)
	if !ok {
		return
	}
	h.renderSession(c, ls)
}

// closeSession tears the session down. Closing before Verified has no
// attendance side effect.
func (h *Handler) closeSession(c *gin.Context) {
	ls, ok := h.ownedSession(c)
	if !ok {
		return
	}
	h.sessions.remove(c.Param("id"))
	_, _, state := ls.sess.Snapshot()
	if state != face.StateVerified {
		metrics.Verifications.WithLabelValues("closed").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *Handler) ownedSession(c *gin.Context) (*liveSession, bool) {
	ls, ok := h.sessions.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if ls.userID != currentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return nil, false
	}
	return ls, true
}

func (h *Handler) renderSession(c *gin.Context, ls *liveSession) {
	score, band, state := ls.sess.Snapshot()
	resp := gin.H{
		"session_id":   ls.sess.ID(),
		"score":        score,
		"band":         band,
		"state":        state,
		"within_range": ls.geo.WithinRange(),
	}
	if outcome := ls.getOutcome(); outcome != nil {
		resp["outcome"] = outcome
	}
	c.JSON(http.StatusOK, resp)
}

// ---------- Admin ----------

func (h *Handler) adminListUsers(c *gin.Context) {
	users, err := h.identity.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type adminUserRequest struct {
	Username   string     `json:"username" binding:"required"`
	Password   string     `json:"password"`
	Role       model.Role `json:"role"`
	Name       string     `json:"name" binding:"required"`
	Email      string     `json:"email" binding:"required,email"`
	Department string     `json:"department"`
}

func (h *Handler) adminCreateUser(c *gin.Context) {
	var req adminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.identity.AdminCreate(c.Request.Context(), model.User{
		Username:   req.Username,
		Password:   req.Password,
		Role:       req.Role,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) adminUpdateUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req adminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.identity.AdminUpdate(c.Request.Context(), model.User{
		ID:         id,
		Username:   req.Username,
		Password:   req.Password,
		Role:       req.Role,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) adminDeleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.identity.AdminDelete(c.Request.Context(), id); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) adminListRecords(c *gin.Context) {
	f, ok := recordFilter(c)
	if !ok {
		return
	}
	records, err := h.store.ListRecords(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// adminExportRecords streams the filtered records as CSV.
func (h *Handler) adminExportRecords(c *gin.Context) {
	f, ok := recordFilter(c)
	if !ok {
		return
	}
	records, err := h.store.ListRecords(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "user_id", "name", "date", "clock_in", "clock_out", "status", "remark"})
	for _, r := range records {
		_ = w.Write([]string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.UserID, 10),
			r.Name,
			r.Date,
			formatClock(r.ClockIn),
			formatClock(r.ClockOut),
			string(r.Status),
			r.Remark,
		})
	}
	w.Flush()
}

// ---------- Helpers ----------

func recordFilter(c *gin.Context) (store.RecordFilter, bool) {
	var f store.RecordFilter
	f.Date = c.Query("date")
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return f, false
		}
		f.UserID = id
	}
	return f, true
}

func formatClock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04:05")
}

func currentUserID(c *gin.Context) int64 {
	claims, ok := auth.FromContext(c)
	if !ok {
		return 0
	}
	id, err := claims.UserID()
	if err != nil {
		return 0
	}
	return id
}

// errorStatus maps domain errors onto HTTP statuses. Anything outside the
// taxonomy is an infrastructure failure, not the caller's fault.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, face.ErrModelsNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, face.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, face.ErrNoBiometricEnrolled):
		return http.StatusPreconditionFailed
	case errors.Is(err, face.ErrCameraAccessDenied):
		return http.StatusConflict
	case errors.Is(err, geofence.ErrLocationUnavailable):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
