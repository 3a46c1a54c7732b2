// Package identity 是身份验证服务(CIS)：核对花名册、签发匿名会话与一次性跳转码，
// 并在投票箱的服务间调用中兑换跳转码、标记会话已使用。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/audit"
	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/pkg/token"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tokenBytes 是匿名id和跳转码的随机字节数（128位）
const tokenBytes = 16

// Options 配置会话和跳转码的生命周期
type Options struct {
	BallotBaseURL string
	SessionTTL    time.Duration
	CodeTTL       time.Duration
}

// Service 实现身份验证服务
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewService 创建身份验证服务
func NewService(db *gorm.DB, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 10 * time.Minute
	}
	return &Service{db: db, logger: logger, opts: opts, now: time.Now}
}

// Verification 是一次成功验证的结果
type Verification struct {
	BallotURL string
	Code      string
}

// Status 是花名册的统计
type Status struct {
	Total    int64 `json:"total"`
	Verified int64 `json:"verified"`
	Finished int64 `json:"finished"`
	Pending  int64 `json:"pending"`
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

func (s *Service) logError(msg string, err error, attrs ...any) {
	s.logger.Warn(msg, append(attrs, "error", err)...)
}

// activeEvent 查找活动并拒绝已停用的活动
func activeEvent(ctx context.Context, tx *gorm.DB, sessionUUID string) (*event.Event, error) {
	ev, err := event.BySessionUUID(ctx, tx, sessionUUID)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive {
		return nil, ErrEventInactive
	}
	return ev, nil
}

// Verify 按姓名核对花名册并签发匿名会话与跳转码，返回投票箱的入口地址。
// 已投票的选民不会再得到新的会话。
func (s *Service) Verify(ctx context.Context, sessionUUID, given, family string) (*Verification, error) {
	if strings.TrimSpace(sessionUUID) == "" || strings.TrimSpace(given) == "" || strings.TrimSpace(family) == "" {
		return nil, ErrMissingFields
	}

	var result Verification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := activeEvent(ctx, tx, sessionUUID)
		if err != nil {
			return err
		}

		// 1. 锁定匹配的选民，待审核的自助登记不参与匹配
		voter, err := event.FindVoter(tx.Clauses(forUpdate), ev.ID, given, family)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("查询选民失败: %w", err)
		}
		if voter.Pending {
			return ErrNotFound
		}
		if voter.HasCast {
			return ErrAlreadyVoted
		}

		// 2. 签发匿名会话
		now := s.now()
		anonID, err := token.RandomToken(tokenBytes)
		if err != nil {
			return err
		}
		voterID := voter.ID
		anon := AnonSession{
			AnonID:    anonID,
			EventID:   ev.ID,
			VoterID:   &voterID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.opts.SessionTTL),
		}
		if err := tx.Create(&anon).Error; err != nil {
			return fmt.Errorf("创建匿名会话失败: %w", err)
		}

		// 3. 签发一次性跳转码
		code, err := token.RandomToken(tokenBytes)
		if err != nil {
			return err
		}
		rc := RedirectCode{
			Code:      code,
			AnonID:    anonID,
			EventID:   ev.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.opts.CodeTTL),
		}
		if err := tx.Create(&rc).Error; err != nil {
			return fmt.Errorf("创建跳转码失败: %w", err)
		}

		// 4. 标记已验证，供工作人员看板使用
		if !voter.IsVerified {
			if err := tx.Model(&event.Voter{}).Where("id = ?", voter.ID).Update("is_verified", true).Error; err != nil {
				return err
			}
		}

		// 5. 审计
		if _, err := audit.Append(tx, ev.ID, audit.TypeVerifyOK, map[string]any{"voter_id": voter.ID, "anon": anonID}); err != nil {
			return err
		}

		result = Verification{
			BallotURL: ballotURL(s.opts.BallotBaseURL, ev.SessionUUID, code),
			Code:      code,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cis_verify_ok", "event", sessionUUID)
	return &result, nil
}

func ballotURL(base, sessionUUID, code string) string {
	return strings.TrimRight(base, "/") + "/ballot/" + url.PathEscape(sessionUUID) + "?handoff=" + url.QueryEscape(code)
}

// Redeem 兑换一次性跳转码，返回匿名id。
// 同一个跳转码最多兑换成功一次，过期或重复兑换返回 ErrInvalidOrUsed。
func (s *Service) Redeem(ctx context.Context, code, sessionUUID string) (string, error) {
	if code == "" || sessionUUID == "" {
		return "", ErrMissingFields
	}

	var anonID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := event.BySessionUUID(ctx, tx, sessionUUID)
		if err != nil {
			return err
		}

		// 1. 锁定跳转码
		var rc RedirectCode
		err = tx.Clauses(forUpdate).Where("code = ? AND event_id = ?", code, ev.ID).Take(&rc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidOrUsed
		}
		if err != nil {
			return err
		}
		now := s.now()
		if rc.RedeemedAt != nil || !now.Before(rc.ExpiresAt) {
			return ErrInvalidOrUsed
		}

		// 2. 跳转码指向的会话必须仍然可用
		var anon AnonSession
		if err := tx.Clauses(forUpdate).Where("anon_id = ?", rc.AnonID).Take(&anon).Error; err != nil {
			return ErrInvalidOrUsed
		}
		if anon.Spent() {
			return ErrAlreadySpent
		}
		if anon.Expired(now) {
			return ErrExpired
		}

		// 3. 条件更新，只有一个兑换者能让 redeemed_at 从空变为非空
		res := tx.Model(&RedirectCode{}).Where("code = ? AND redeemed_at IS NULL", code).Update("redeemed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidOrUsed
		}
		if anon.ActivatedAt == nil {
			if err := tx.Model(&AnonSession{}).Where("anon_id = ?", anon.AnonID).Update("activated_at", now).Error; err != nil {
				return err
			}
		}

		if _, err := audit.Append(tx, ev.ID, audit.TypeRedeemOK, map[string]any{"anon": anon.AnonID}); err != nil {
			return err
		}
		anonID = anon.AnonID
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("cis_redeem_ok", "event", sessionUUID)
	return anonID, nil
}

// MarkSpent 标记匿名会话已使用，并设置选民的已投票标志。
// tx 不为nil时在调用方的事务中执行，使投票记录与spend标记一起提交或回滚。
func (s *Service) MarkSpent(ctx context.Context, tx *gorm.DB, anonID, sessionUUID string) error {
	if anonID == "" || sessionUUID == "" {
		return ErrMissingFields
	}
	if tx != nil {
		return s.markSpent(ctx, tx.WithContext(ctx), anonID, sessionUUID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.markSpent(ctx, tx, anonID, sessionUUID)
	})
}

func (s *Service) markSpent(ctx context.Context, tx *gorm.DB, anonID, sessionUUID string) error {
	ev, err := event.BySessionUUID(ctx, tx, sessionUUID)
	if err != nil {
		return err
	}

	// 1. 锁定会话
	var anon AnonSession
	err = tx.Clauses(forUpdate).Where("anon_id = ? AND event_id = ?", anonID, ev.ID).Take(&anon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidOrSpent
	}
	if err != nil {
		return err
	}
	if anon.Spent() {
		return ErrInvalidOrSpent
	}
	now := s.now()
	if anon.Expired(now) {
		return ErrExpired
	}

	// 2. 锁定关联的选民
	var voter *event.Voter
	if anon.VoterID != nil {
		var v event.Voter
		err := tx.Clauses(forUpdate).Take(&v, *anon.VoterID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if v.HasCast {
				return ErrAlreadyVoted
			}
			voter = &v
		}
	}

	// 3. 条件更新 spent_at
	res := tx.Model(&AnonSession{}).Where("anon_id = ? AND spent_at IS NULL", anon.AnonID).Update("spent_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrInvalidOrSpent
	}

	// 4. 设置已投票标志，并让同一选民其余未使用的会话立即过期
	if voter != nil {
		if err := tx.Model(&event.Voter{}).Where("id = ?", voter.ID).Update("has_cast", true).Error; err != nil {
			return err
		}
		err := tx.Model(&AnonSession{}).
			Where("voter_id = ? AND anon_id <> ? AND spent_at IS NULL AND expires_at > ?", voter.ID, anon.AnonID, now).
			Update("expires_at", now).Error
		if err != nil {
			return err
		}
	}

	if _, err := audit.Append(tx, ev.ID, audit.TypeCastOK, map[string]any{"anon": anon.AnonID}); err != nil {
		return err
	}
	s.logger.Info("cis_mark_spent_ok", "event", sessionUUID)
	return nil
}

// VoterStatus 返回活动花名册的统计
func (s *Service) VoterStatus(ctx context.Context, sessionUUID string) (*Status, error) {
	db := s.db.WithContext(ctx)
	ev, err := event.BySessionUUID(ctx, db, sessionUUID)
	if err != nil {
		return nil, err
	}

	var st Status
	base := func() *gorm.DB { return db.Model(&event.Voter{}).Where("event_id = ?", ev.ID) }
	if err := base().Where("pending = ?", false).Count(&st.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_verified = ?", true).Count(&st.Verified).Error; err != nil {
		return nil, err
	}
	if err := base().Where("has_cast = ?", true).Count(&st.Finished).Error; err != nil {
		return nil, err
	}
	if err := base().Where("pending = ?", true).Count(&st.Pending).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// Register 自助登记一个待审核的选民
func (s *Service) Register(ctx context.Context, sessionUUID, given, family string) (*event.Voter, error) {
	if strings.TrimSpace(given) == "" || strings.TrimSpace(family) == "" {
		return nil, ErrMissingFields
	}

	var voter event.Voter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := activeEvent(ctx, tx, sessionUUID)
		if err != nil {
			return err
		}
		_, err = event.FindVoter(tx, ev.ID, given, family)
		if err == nil {
			return ErrDuplicateVoter
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		voter = event.Voter{EventID: ev.ID, GivenName: given, FamilyName: family, Pending: true}
		return tx.Create(&voter).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("cis_register_pending", "event", sessionUUID, "voter_id", voter.ID)
	return &voter, nil
}

// Approve 审核通过一个自助登记的选民
func (s *Service) Approve(ctx context.Context, voterID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var voter event.Voter
		err := tx.Clauses(forUpdate).Take(&voter, voterID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !voter.Pending {
			return nil
		}
		if err := tx.Model(&event.Voter{}).Where("id = ?", voter.ID).Update("pending", false).Error; err != nil {
			return err
		}
		_, err = audit.Append(tx, voter.EventID, audit.TypeApproved, map[string]any{"voter_id": voter.ID})
		return err
	})
	if err != nil {
		s.logError("cis_approve_failed", err, "voter_id", voterID)
		return err
	}
	return nil
}
