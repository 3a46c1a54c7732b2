package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/identity"
	"github.com/SlpAus/agm-voting-backend/pkg/token"
	"gorm.io/gorm"
)

// Client 通过签名的HTTP请求调用远端的身份验证服务
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

// NewClient 创建服务间客户端。timeout<=0 时使用5秒。
func NewClient(baseURL string, secret []byte, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	AnonID string `json:"anon_id"`
}

// Redeem 兑换跳转码
func (c *Client) Redeem(ctx context.Context, code, sessionUUID string) (string, error) {
	var resp response
	err := c.post(ctx, "/api/redeem", map[string]string{
		"redirect_code": code,
		"session_uuid":  sessionUUID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.AnonID, nil
}

// MarkSpent 通知远端标记会话已使用。
// 远端有自己的事务，tx 被忽略：远端失败时返回错误，由调用方回滚本地事务。
func (c *Client) MarkSpent(ctx context.Context, _ *gorm.DB, anonID, sessionUUID string) error {
	var resp response
	return c.post(ctx, "/api/mark-spent", map[string]string{
		"anon_id":      anonID,
		"session_uuid": sessionUUID,
	}, &resp)
}

func (c *Client) post(ctx context.Context, path string, payload any, out *response) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, token.SignBody(c.secret, body))

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("handoff %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("handoff %s: 读取响应失败: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("handoff %s: 响应状态 %d 无法解析: %w", path, res.StatusCode, err)
	}
	if !out.OK {
		if typed := identity.ErrorFromCode(out.Error); typed != nil {
			return typed
		}
		return fmt.Errorf("handoff %s: 状态 %d, 错误 %q", path, res.StatusCode, out.Error)
	}
	return nil
}
