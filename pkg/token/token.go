package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidToken 表示签名值格式错误或签名不匹配
var ErrInvalidToken = errors.New("token: invalid signature")

// RandomToken 生成一个 n 字节的密码学安全随机串，以base64url编码返回。
// 16字节即128位熵。
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("无法生成安全的随机串: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func sum(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignBody 计算 HMAC-SHA256(secret, body)，返回十六进制编码的签名。
// 服务间请求在 X-Signature 头中携带它。
func SignBody(secret, body []byte) string {
	return hex.EncodeToString(sum(secret, body))
}

// VerifyBody 验证一个十六进制签名是否与原始请求体匹配。
func VerifyBody(secret, body []byte, signatureHex string) bool {
	// 1. 解码对方传来的签名，格式错误直接拒绝
	actual, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(actual) != sha256.Size {
		return false
	}

	// 2. 在完全相同的原始字节上重新计算
	expected := sum(secret, body)

	// 3. 使用 hmac.Equal 进行时间恒定的比较，防止时序攻击
	return hmac.Equal(expected, actual)
}

// Seal 将payload序列化为JSON并签名，返回 "<payload>.<signature>" 形式的字符串，
// 两部分都使用base64url编码，适合直接放入cookie。
func Seal(secret []byte, payload any) (string, error) {
	// 1. 将payload序列化为JSON字符串
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("无法序列化token payload: %w", err)
	}

	// 2. 使用HMAC-SHA256和密钥对payload进行签名
	signature := sum(secret, payloadBytes)

	// 3. 拼接编码后的两部分
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." +
		base64.RawURLEncoding.EncodeToString(signature), nil
}

// Open 验证 Seal 生成的字符串，并将payload反序列化到 out 中。
func Open(secret []byte, sealed string, out any) error {
	encodedPayload, encodedSignature, ok := strings.Cut(sealed, ".")
	if !ok {
		return ErrInvalidToken
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return ErrInvalidToken
	}
	actual, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(sum(secret, payloadBytes), actual) {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return ErrInvalidToken
	}
	return nil
}
