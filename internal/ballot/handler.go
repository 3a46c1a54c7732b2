package ballot

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/SlpAus/agm-voting-backend/pkg/token"
	"github.com/gin-gonic/gin"
)

// ContextCookie 保存签名后的匿名投票上下文
const ContextCookie = "ballot_ctx"

// CookieOptions 配置匿名上下文cookie
type CookieOptions struct {
	Secret []byte
	MaxAge time.Duration
	Secure bool
}

// Handler 暴露投票箱的HTTP接口
type Handler struct {
	svc    *Service
	cookie CookieOptions
	logger *slog.Logger
}

// NewHandler 创建HTTP处理器
func NewHandler(svc *Service, cookie CookieOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = 12 * time.Hour
	}
	return &Handler{svc: svc, cookie: cookie, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := ErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("bbs_request_failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"ok": false, "error": code})
}

// loadContext 读取并校验cookie中的匿名上下文，缺失或被篡改时返回nil
func (h *Handler) loadContext(c *gin.Context) *Context {
	raw, err := c.Cookie(ContextCookie)
	if err != nil || raw == "" {
		return nil
	}
	var bc Context
	if err := token.Open(h.cookie.Secret, raw, &bc); err != nil {
		h.logger.Warn("bbs_context_rejected", "error", err)
		return nil
	}
	return &bc
}

func (h *Handler) storeContext(c *gin.Context, bc *Context) error {
	sealed, err := token.Seal(h.cookie.Secret, bc)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ContextCookie, sealed, int(h.cookie.MaxAge.Seconds()), "/", "", h.cookie.Secure, true)
	return nil
}

func (h *Handler) clearContext(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ContextCookie, "", -1, "/", "", h.cookie.Secure, true)
}

// Enter 处理 GET /ballot/:uuid?handoff=&segment=
// 带跳转码时兑换并重定向到去掉跳转码的地址，否则要求已有匹配的匿名上下文。
func (h *Handler) Enter(c *gin.Context) {
	sessionUUID := c.Param("uuid")
	segment, err := strconv.Atoi(c.DefaultQuery("segment", "1"))
	if err != nil {
		segment = 1
	}

	if code := c.Query("handoff"); code != "" {
		bc, err := h.svc.Redeem(c.Request.Context(), sessionUUID, code)
		if err != nil {
			_, errCode := ErrorCode(err)
			c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": errCode})
			return
		}
		if err := h.storeContext(c, bc); err != nil {
			h.fail(c, err)
			return
		}

		// 去掉一次性跳转码，防止刷新页面时重复兑换
		clean := url.URL{Path: c.Request.URL.Path}
		if q := c.Query("segment"); q != "" {
			clean.RawQuery = url.Values{"segment": {q}}.Encode()
		}
		c.Redirect(http.StatusFound, clean.String())
		return
	}

	page, err := h.svc.Page(c.Request.Context(), h.loadContext(c), sessionUUID, segment)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "page": page})
}

type castRequest struct {
	SessionUUID string   `json:"session_uuid"`
	Choices     [][]uint `json:"choices"`
}

// Cast 处理 POST /api/cast
func (h *Handler) Cast(c *gin.Context) {
	var req castRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionUUID == "" || req.Choices == nil {
		h.fail(c, ErrBadRequest)
		return
	}
	choices := make([]Choice, 0, len(req.Choices))
	for _, pair := range req.Choices {
		if len(pair) != 2 {
			h.fail(c, ErrBadRequest)
			return
		}
		choices = append(choices, Choice{SegmentID: pair[0], CandidateID: pair[1]})
	}

	receipt, err := h.svc.Cast(c.Request.Context(), h.loadContext(c), req.SessionUUID, choices)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.clearContext(c)
	c.JSON(http.StatusOK, gin.H{"ok": true, "created": receipt.Created, "receipt": receipt.Receipt})
}

// Results 处理 GET /api/events/:uuid/results，仅限工作人员
func (h *Handler) Results(c *gin.Context) {
	results, err := h.svc.Results(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "tally": results})
}

// ExportCVR 处理 GET /api/events/:uuid/cvr.csv，仅限工作人员
func (h *Handler) ExportCVR(c *gin.Context) {
	sessionUUID := c.Param("uuid")
	rows, err := h.svc.ExportCVR(c.Request.Context(), sessionUUID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="cvr_`+sessionUUID+`.csv"`)
	c.Status(http.StatusOK)
	if err := WriteCVR(c.Writer, rows); err != nil {
		h.logger.Error("bbs_cvr_write_failed", "event", sessionUUID, "error", err)
	}
}
