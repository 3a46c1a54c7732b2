// Package user 解析动议表决中的参会者身份。
// 优先使用投票箱发放的匿名上下文，其次是浏览器中的临时 user-id cookie。
package user

import (
	"fmt"

	"github.com/google/uuid"
)

// NewProvisionalID 生成一个临时的参会者ID
func NewProvisionalID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("无法生成UUID v7: %w", err)
	}
	return id.String(), nil
}

// IsValidID 检查ID是否是格式正确的 UUID v7
func IsValidID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7
}
