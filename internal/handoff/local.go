package handoff

import (
	"context"

	"github.com/SlpAus/agm-voting-backend/internal/identity"
	"gorm.io/gorm"
)

// Local 在同一进程内直接调用身份验证服务。
// MarkSpent 加入调用方的事务，投票记录与spend标记在一次提交中落盘。
type Local struct {
	svc *identity.Service
}

// NewLocal 创建进程内通道
func NewLocal(svc *identity.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) Redeem(ctx context.Context, code, sessionUUID string) (string, error) {
	return l.svc.Redeem(ctx, code, sessionUUID)
}

func (l *Local) MarkSpent(ctx context.Context, tx *gorm.DB, anonID, sessionUUID string) error {
	return l.svc.MarkSpent(ctx, tx, anonID, sessionUUID)
}
