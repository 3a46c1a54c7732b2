package motion

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/agm-voting-backend/internal/user"
)

// PresenceCounter 返回活动的在线人数
type PresenceCounter interface {
	Count(ctx context.Context, eventID uint) (int64, error)
}

// Handler 暴露动议相关的HTTP接口
type Handler struct {
	svc      *Service
	presence PresenceCounter
	identify func(*gin.Context) string
	logger   *slog.Logger
}

// NewHandler 创建HTTP处理器，identify 从请求中解析参会者身份
func NewHandler(svc *Service, presence PresenceCounter, identify func(*gin.Context) string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, presence: presence, identify: identify, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := ErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("motion_request_failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"ok": false, "error": code}
	var locked *LockedError
	if errors.As(err, &locked) {
		body["choice"] = locked.Choice
	}
	c.JSON(status, body)
}

func motionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) identity(c *gin.Context) string {
	if h.identify == nil {
		return ""
	}
	return h.identify(c)
}

// Scope 把动议所属的活动写入上下文，放在身份解析之前
func (h *Handler) Scope(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		c.Abort()
		return
	}
	sessionUUID, err := h.svc.SessionUUID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Set(user.SessionKey, sessionUUID)
	c.Next()
}

// Vote 处理 POST /api/motions/:id/vote
func (h *Handler) Vote(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	var req struct {
		Choice string `form:"choice" json:"choice"`
	}
	// 缺少choice时按无效选项处理
	_ = c.ShouldBind(&req)

	res, err := h.svc.RecordVote(c.Request.Context(), id, h.identity(c), req.Choice)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"ok": true, "motion_id": res.MotionID, "choice": res.Choice, "created": res.Created, "changed": res.Changed}
	if res.Previous != "" {
		body["previous"] = res.Previous
	}
	c.JSON(http.StatusOK, body)
}

// Current 处理 GET /api/events/:uuid/motions/current
func (h *Handler) Current(c *gin.Context) {
	snap, err := h.svc.Current(c.Request.Context(), c.Param("uuid"), h.identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "open": snap.Open, "latest_closed": snap.LatestClosed, "preview": snap.Preview})
}

// Presence 处理 GET /api/events/:uuid/presence
func (h *Handler) Presence(c *gin.Context) {
	ev, err := h.svc.ActiveEvent(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	count, err := h.presence.Count(c.Request.Context(), ev.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": count})
}

// Create 处理 POST /api/events/:uuid/motions
func (h *Handler) Create(c *gin.Context) {
	var d Draft
	if err := c.ShouldBind(&d); err != nil {
		h.fail(c, ErrMissingTitle)
		return
	}
	m, err := h.svc.Create(c.Request.Context(), c.Param("uuid"), d)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "motion": NewView(m)})
}

// List 处理 GET /api/events/:uuid/motions
func (h *Handler) List(c *gin.Context) {
	views, err := h.svc.List(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motions": views})
}

// Open 处理 POST /api/motions/:id/open
func (h *Handler) Open(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	m, err := h.svc.Open(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion": NewView(m)})
}

// Close 处理 POST /api/motions/:id/close
func (h *Handler) Close(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	m, counts, err := h.svc.Close(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	view := NewView(m)
	view.Counts = &counts
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion": view})
}

// Preview 处理 POST /api/motions/:id/preview
func (h *Handler) Preview(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	view, err := h.svc.Preview(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "preview": view})
}

// Reveal 处理 POST /api/motions/:id/reveal
func (h *Handler) Reveal(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	counts, err := h.svc.Reveal(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion_id": id, "counts": counts})
}

// Hide 处理 POST /api/motions/:id/hide
func (h *Handler) Hide(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	if err := h.svc.Hide(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion_id": id})
}

// Reset 处理 POST /api/motions/:id/reset
func (h *Handler) Reset(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	counts, err := h.svc.Reset(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion_id": id, "counts": counts})
}

// Timer 处理 POST /api/motions/:id/timer，请求体 {seconds} 或 {extend}
func (h *Handler) Timer(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	var req struct {
		Seconds *int `form:"seconds" json:"seconds"`
		Extend  *int `form:"extend" json:"extend"`
	}
	// 无法解析的数值视为未提供
	_ = c.ShouldBind(&req)

	m, err := h.svc.SetTimer(c.Request.Context(), id, req.Seconds, req.Extend)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion": NewView(m)})
}

// Reorder 处理 POST /api/motions/:id/reorder，请求体 {direction: up|down}
func (h *Handler) Reorder(c *gin.Context) {
	id, ok := motionID(c)
	if !ok {
		h.fail(c, ErrNotFound)
		return
	}
	var req struct {
		Direction string `form:"direction" json:"direction"`
	}
	_ = c.ShouldBind(&req)

	if err := h.svc.Reorder(c.Request.Context(), id, req.Direction); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Tallies 处理 GET /api/events/:uuid/tallies?motion_id=
func (h *Handler) Tallies(c *gin.Context) {
	var id uint
	if raw := c.Query("motion_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.fail(c, ErrNotFound)
			return
		}
		id = uint(n)
	}
	view, err := h.svc.Tallies(c.Request.Context(), c.Param("uuid"), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "motion_id": view.MotionID, "counts": view.Counts, "total": view.Total})
}
