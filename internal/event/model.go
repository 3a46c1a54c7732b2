package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event 是一次大会/选举。SessionUUID 是对外暴露的标识
type Event struct {
	ID          uint   `gorm:"primaryKey"`
	SessionUUID string `gorm:"size:36;not null;uniqueIndex"`
	Title       string `gorm:"size:200;not null"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BeforeCreate 为新活动分配 SessionUUID
func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.SessionUUID == "" {
		e.SessionUUID = uuid.NewString()
	}
	return nil
}

// Segment 是选票上的一个栏目（例如"主席"），按 (position, id) 排序
type Segment struct {
	ID         uint        `gorm:"primaryKey"`
	EventID    uint        `gorm:"not null;index"`
	Name       string      `gorm:"size:255;not null"`
	Position   int         `gorm:"not null;default:0"`
	Candidates []Candidate `gorm:"foreignKey:SegmentID"`
}

// Candidate 属于某个栏目
type Candidate struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   uint   `gorm:"not null;index"`
	SegmentID uint   `gorm:"not null;index"`
	Name      string `gorm:"size:255;not null"`
}

// Voter 是某个活动花名册上的一条记录。
// 名字按不区分大小写的方式匹配，GivenKey/FamilyKey 保存规范化后的匹配键。
type Voter struct {
	ID         uint   `gorm:"primaryKey"`
	EventID    uint   `gorm:"not null;index:idx_voter_name"`
	GivenName  string `gorm:"size:100;not null"`
	FamilyName string `gorm:"size:100;not null"`
	GivenKey   string `gorm:"size:100;not null;index:idx_voter_name"`
	FamilyKey  string `gorm:"size:100;not null;index:idx_voter_name"`
	IsVerified bool   `gorm:"not null;default:false"`
	// HasCast 一旦为true就不会再被重置
	HasCast bool `gorm:"not null;default:false"`
	// Pending 表示自助登记、等待工作人员审核的选民，审核前不能通过验证
	Pending   bool `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NameKey 返回名字的匹配键
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// BeforeSave 在写入前刷新匹配键
func (v *Voter) BeforeSave(*gorm.DB) error {
	v.GivenName = strings.TrimSpace(v.GivenName)
	v.FamilyName = strings.TrimSpace(v.FamilyName)
	v.GivenKey = NameKey(v.GivenName)
	v.FamilyKey = NameKey(v.FamilyName)
	return nil
}

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&Event{}, &Segment{}, &Candidate{}, &Voter{}}
}
