// Package staff 为主持人与管理员提供登录和令牌校验。
// 账号来自配置文件，密码以bcrypt哈希保存；登录后签发 HS256 JWT。
package staff

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
)

const issuer = "agm-voting"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims 是工作人员令牌的声明
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator 校验工作人员凭证并签发令牌
type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	accounts map[string]string
	now      func() time.Time
}

// NewAuthenticator 从配置创建认证器
func NewAuthenticator(cfg config.StaffConfig) *Authenticator {
	accounts := make(map[string]string, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[a.Username] = a.PasswordHash
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), ttl: ttl, accounts: accounts, now: time.Now}
}

// HashPassword 生成bcrypt哈希，用于填写配置文件中的 passwordHash
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login 校验用户名和密码，成功时返回签名后的令牌和过期时间
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	hash, ok := a.accounts[username]
	if !ok || username == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.Issue(username)
}

// Issue 为用户签发令牌
func (a *Authenticator) Issue(username string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: "staff",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发令牌失败: %w", err)
	}
	return signed, expires, nil
}

// Verify 校验令牌并返回其中的用户名
func (a *Authenticator) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || claims.Subject == "" || claims.Role != "staff" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
