package motion

import (
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/tally"
)

// 动议状态
const (
	StatusDraft  = "draft"
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Motion 是一个可表决的动议。同一活动内 DisplayOrder 唯一。
type Motion struct {
	ID               uint       `gorm:"primaryKey"`
	EventID          uint       `gorm:"not null;uniqueIndex:idx_motion_event_order,priority:1"`
	Title            string     `gorm:"size:255;not null"`
	Body             string     `gorm:"type:text"`
	DisplayOrder     int        `gorm:"not null;uniqueIndex:idx_motion_event_order,priority:2"`
	Status           string     `gorm:"size:12;not null;default:draft;index"`
	AllowVoteChange  bool       `gorm:"not null;default:true"`
	RevealResults    bool       `gorm:"not null;default:false"`
	AutoCloseSeconds *int
	OpenedAt         *time.Time
	ClosedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Vote 是一个参会者在一个动议上的当前选择，每人每动议最多一行
type Vote struct {
	ID            uint      `gorm:"primaryKey"`
	MotionID      uint      `gorm:"not null;uniqueIndex:idx_motion_vote_voter,priority:1;index:idx_motion_vote_choice,priority:1"`
	VoterIdentity string    `gorm:"size:128;not null;uniqueIndex:idx_motion_vote_voter,priority:2"`
	Choice        string    `gorm:"size:12;not null;index:idx_motion_vote_choice,priority:2"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (Vote) TableName() string { return "motion_votes" }

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&Motion{}, &Vote{}}
}

// ValidChoice 判断是否是合法的表决选项
func ValidChoice(choice string) bool {
	switch choice {
	case tally.Yes, tally.No, tally.Abstain:
		return true
	}
	return false
}

// View 是动议对外的表示，用于HTTP响应、预览缓存和实时推送
type View struct {
	ID               uint          `json:"id"`
	Title            string        `json:"title"`
	Body             string        `json:"body"`
	DisplayOrder     int           `json:"display_order"`
	Status           string        `json:"status"`
	AllowVoteChange  bool          `json:"allow_vote_change"`
	RevealResults    bool          `json:"reveal_results"`
	AutoCloseSeconds *int          `json:"auto_close_seconds"`
	OpenedAt         *time.Time    `json:"opened_at"`
	ClosedAt         *time.Time    `json:"closed_at"`
	Selection        *string       `json:"selection,omitempty"`
	Counts           *tally.Counts `json:"counts,omitempty"`
	Preview          *bool         `json:"preview,omitempty"`
	VotesCount       *int64        `json:"votes_count,omitempty"`
}

// NewView 生成动议的对外表示
func NewView(m *Motion) *View {
	return &View{
		ID:               m.ID,
		Title:            m.Title,
		Body:             m.Body,
		DisplayOrder:     m.DisplayOrder,
		Status:           m.Status,
		AllowVoteChange:  m.AllowVoteChange,
		RevealResults:    m.RevealResults,
		AutoCloseSeconds: m.AutoCloseSeconds,
		OpenedAt:         m.OpenedAt,
		ClosedAt:         m.ClosedAt,
	}
}

// Deadline 返回自动关闭的时间点，没有设置计时器时返回false
func (m *Motion) Deadline() (time.Time, bool) {
	if m.Status != StatusOpen || m.OpenedAt == nil || m.AutoCloseSeconds == nil || *m.AutoCloseSeconds <= 0 {
		return time.Time{}, false
	}
	return m.OpenedAt.Add(time.Duration(*m.AutoCloseSeconds) * time.Second), true
}
