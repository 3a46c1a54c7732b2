package identity

import "time"

// AnonSession 是一次"可以投一次票"的匿名凭证。
// VoterID 只用于spend时的簿记，从不对外暴露。
type AnonSession struct {
	AnonID      string `gorm:"primaryKey;size:64"`
	EventID     uint   `gorm:"not null;index"`
	VoterID     *uint  `gorm:"index"`
	IssuedAt    time.Time
	ActivatedAt *time.Time
	SpentAt     *time.Time
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (AnonSession) TableName() string { return "anon_sessions" }

// Spent 报告会话是否已经被使用
func (s *AnonSession) Spent() bool { return s.SpentAt != nil }

// Expired 报告会话在 now 时是否已过期
func (s *AnonSession) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// RedirectCode 是一次性的、短时有效的跳转码，用来从验证页面交接到投票箱
type RedirectCode struct {
	Code       string `gorm:"primaryKey;size:64"`
	AnonID     string `gorm:"size:64;not null;index"`
	EventID    uint   `gorm:"not null;index"`
	CreatedAt  time.Time
	RedeemedAt *time.Time
	ExpiresAt  time.Time `gorm:"not null"`
}

func (RedirectCode) TableName() string { return "redirect_codes" }

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&AnonSession{}, &RedirectCode{}}
}
