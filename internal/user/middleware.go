package user

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/pkg/token"
)

const (
	CookieName   = "user-id"
	CookieMaxAge = 365 * 24 * 60 * 60
	IdentityKey  = "participantIdentity"
	// SessionKey 是路由不带活动uuid时，前置中间件写入的所属活动
	SessionKey = "participantSession"
)

// Resolver 从请求中解析参会者身份
type Resolver struct {
	ballotSecret []byte
	secure       bool
	logger       *slog.Logger
}

// NewResolver 创建解析器，ballotSecret 用于校验匿名上下文cookie
func NewResolver(ballotSecret []byte, secure bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{ballotSecret: ballotSecret, secure: secure, logger: logger}
}

// anonID 读取匿名上下文中的 anon_id。能确定所属活动时要求上下文属于同一活动。
func (r *Resolver) anonID(c *gin.Context) string {
	raw, err := c.Cookie(ballot.ContextCookie)
	if err != nil || raw == "" {
		return ""
	}
	var bc ballot.Context
	if err := token.Open(r.ballotSecret, raw, &bc); err != nil {
		return ""
	}
	scope := c.Param("uuid")
	if scope == "" {
		scope = c.GetString(SessionKey)
	}
	if scope != "" && scope != bc.SessionUUID {
		r.logger.Debug("participant_context_mismatch", "scope", scope)
		return ""
	}
	return bc.AnonID
}

// lookup 返回已有的身份，不会分发新的cookie
func (r *Resolver) lookup(c *gin.Context) string {
	if id := r.anonID(c); id != "" {
		return id
	}
	if id, err := c.Cookie(CookieName); err == nil && IsValidID(id) {
		return id
	}
	return ""
}

// Middleware 解析身份并放入Gin上下文。
// 既没有匿名上下文也没有合法的 user-id cookie 时分发一个新的临时ID。
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := r.lookup(c)
		if id == "" {
			if raw, err := c.Cookie(CookieName); err == nil {
				r.logger.Debug("participant_cookie_invalid", "value", raw)
			}
			provisional, err := NewProvisionalID()
			if err != nil {
				r.logger.Error("participant_id_failed", "error", err)
			} else {
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(CookieName, provisional, CookieMaxAge, "/", "", r.secure, true)
				id = provisional
			}
		}
		c.Set(IdentityKey, id)
		c.Next()
	}
}

// Identify 返回请求的参会者身份。
// 没经过 Middleware 的请求（例如WebSocket握手）只使用已有的身份。
func (r *Resolver) Identify(c *gin.Context) string {
	if id := c.GetString(IdentityKey); id != "" {
		return id
	}
	return r.lookup(c)
}
