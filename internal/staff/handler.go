package staff

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UsernameKey 是通过校验后写入Gin上下文的用户名
const UsernameKey = "staffUsername"

// Handler 暴露登录接口与鉴权中间件
type Handler struct {
	auth   *Authenticator
	logger *slog.Logger
}

// NewHandler 创建处理器
func NewHandler(auth *Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: auth, logger: logger}
}

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Login 处理 POST /api/staff/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_request"})
		return
	}
	tok, expires, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("staff_login_failed", "username", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid_credentials"})
		return
	}
	h.logger.Info("staff_login_ok", "username", req.Username)
	c.JSON(http.StatusOK, gin.H{"ok": true, "token": tok, "expires_at": expires})
}

// bearer 从 Authorization 头或 ?token= 中取出令牌
func bearer(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if tok, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return c.Query("token")
}

// Authorized 判断请求是否携带有效的工作人员令牌，WebSocket握手也使用它
func (h *Handler) Authorized(c *gin.Context) bool {
	username, err := h.auth.Verify(bearer(c))
	if err != nil {
		return false
	}
	c.Set(UsernameKey, username)
	return true
}

// RequireStaff 拒绝没有有效令牌的请求
func (h *Handler) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.Authorized(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "forbidden"})
			return
		}
		c.Next()
	}
}
