package audit

import "time"

// 审计事件类型
const (
	TypeVerifyOK  = "VERIFY_OK"
	TypeRedeemOK  = "REDEEM_OK"
	TypeCastOK    = "CAST_OK"
	TypeCastBatch = "CAST_BATCH"
	TypeApproved  = "VOTER_APPROVED"
)

// Entry 是哈希链中的一条记录，(event_id, seq) 唯一
type Entry struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   uint   `gorm:"not null;uniqueIndex:idx_audit_event_seq"`
	Seq       uint64 `gorm:"not null;uniqueIndex:idx_audit_event_seq"`
	EventType string `gorm:"size:32;not null"`
	// Payload 是规范化的JSON，键已排序
	Payload   string `gorm:"type:text;not null"`
	PrevHash  string `gorm:"size:64;not null;default:''"`
	ThisHash  string `gorm:"size:64;not null;index"`
	CreatedAt time.Time
}

func (Entry) TableName() string { return "audit_log_entries" }

// Head 记录每个活动的链头，追加时对它加行锁以串行化同一活动的写入
type Head struct {
	EventID uint   `gorm:"primaryKey;autoIncrement:false"`
	Seq     uint64 `gorm:"not null"`
	Hash    string `gorm:"size:64;not null;default:''"`
}

func (Head) TableName() string { return "audit_heads" }

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&Entry{}, &Head{}}
}
