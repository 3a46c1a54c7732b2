package identity

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler 暴露身份验证服务的HTTP接口
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler 创建HTTP处理器
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// verifyRequest 同时支持表单与JSON提交
type verifyRequest struct {
	SessionUUID string `form:"session_uuid" json:"session_uuid"`
	GivenName   string `form:"given_name" json:"given_name"`
	FamilyName  string `form:"family_name" json:"family_name"`
}

type redeemRequest struct {
	RedirectCode string `json:"redirect_code"`
	SessionUUID  string `json:"session_uuid"`
}

type markSpentRequest struct {
	AnonID      string `json:"anon_id"`
	SessionUUID string `json:"session_uuid"`
}

// fail 以 {"ok":false,"error":code} 的形式返回错误
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := ErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("cis_request_failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"ok": false, "error": code})
}

// Verify 处理 POST /api/verify
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, ErrMissingFields)
		return
	}
	v, err := h.svc.Verify(c.Request.Context(), req.SessionUUID, req.GivenName, req.FamilyName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "ballot_url": v.BallotURL})
}

// Redeem 处理 POST /api/redeem，只能通过签名校验中间件访问
func (h *Handler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, ErrMissingFields)
		return
	}
	anonID, err := h.svc.Redeem(c.Request.Context(), req.RedirectCode, req.SessionUUID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "anon_id": anonID})
}

// MarkSpent 处理 POST /api/mark-spent，只能通过签名校验中间件访问
func (h *Handler) MarkSpent(c *gin.Context) {
	var req markSpentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, ErrMissingFields)
		return
	}
	if err := h.svc.MarkSpent(c.Request.Context(), nil, req.AnonID, req.SessionUUID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// VoterStatus 处理 GET /api/events/:uuid/voter-status
func (h *Handler) VoterStatus(c *gin.Context) {
	st, err := h.svc.VoterStatus(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Register 处理 POST /api/events/:uuid/register
func (h *Handler) Register(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, ErrMissingFields)
		return
	}
	voter, err := h.svc.Register(c.Request.Context(), c.Param("uuid"), req.GivenName, req.FamilyName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "voter_id": voter.ID, "pending": true})
}

// Approve 处理 POST /api/admin/voters/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, ErrMissingFields)
		return
	}
	if err := h.svc.Approve(c.Request.Context(), uint(id)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
