// Package handoff 实现投票箱(BBS)与身份验证服务(CIS)之间的服务间通道。
// 每个请求体都用共享密钥做 HMAC-SHA256 签名，签名放在 X-Signature 头中。
package handoff

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/SlpAus/agm-voting-backend/pkg/token"
	"github.com/gin-gonic/gin"
)

// SignatureHeader 是携带十六进制签名的请求头
const SignatureHeader = "X-Signature"

// maxBodyBytes 限制服务间请求体的大小
const maxBodyBytes = 64 << 10

// RequireSignature 返回一个校验请求体签名的中间件。
// 签名不匹配时直接返回403，不透露任何细节。
func RequireSignature(secret []byte, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		// 1. 读取原始字节，签名必须在完全相同的字节上计算
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			reject(c, logger, "unreadable_body")
			return
		}

		// 2. 时间恒定的比较
		if !token.VerifyBody(secret, body, c.GetHeader(SignatureHeader)) {
			reject(c, logger, "bad_signature")
			return
		}

		// 3. 把请求体还给后续的处理器
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func reject(c *gin.Context, logger *slog.Logger, reason string) {
	logger.Warn("handoff_signature_rejected",
		"path", c.FullPath(),
		"remote", c.ClientIP(),
		"reason", reason,
	)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "forbidden"})
}
