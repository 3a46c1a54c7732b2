package ballot

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ManualCheckCard 把一次投票中的所有选择打包在一起，供人工核对，不含任何身份信息
type ManualCheckCard struct {
	ID        string `gorm:"primaryKey;size:36"`
	EventID   uint   `gorm:"not null;index"`
	CreatedAt time.Time
}

func (c *ManualCheckCard) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Ballot 是一次投票中对某个 (栏目, 候选人) 的选择，创建后不可修改
type Ballot struct {
	BallotID    string    `gorm:"primaryKey;size:36"`
	EventID     uint      `gorm:"not null;index"`
	CardID      string    `gorm:"size:36;not null;index"`
	SegmentID   uint      `gorm:"not null;index"`
	CandidateID uint      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"index"`
}

func (b *Ballot) BeforeCreate(*gorm.DB) error {
	if b.BallotID == "" {
		b.BallotID = uuid.NewString()
	}
	return nil
}

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&ManualCheckCard{}, &Ballot{}}
}
