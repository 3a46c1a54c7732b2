// Package ballot 是投票箱(BBS)：兑换跳转码进入匿名会话，
// 接收多栏目的选票并打包为人工核对卡，然后通过通道标记会话已使用。
package ballot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/audit"
	"github.com/SlpAus/agm-voting-backend/internal/event"
	"gorm.io/gorm"
)

// Handoff 是投票箱对身份验证服务的依赖。
// MarkSpent 收到的 tx 是投票事务，进程内实现应加入它，远端实现忽略它。
type Handoff interface {
	Redeem(ctx context.Context, code, sessionUUID string) (string, error)
	MarkSpent(ctx context.Context, tx *gorm.DB, anonID, sessionUUID string) error
}

// Context 是保存在调用方临时会话中的匿名投票上下文
type Context struct {
	AnonID      string `json:"a"`
	SessionUUID string `json:"e"`
}

// Choice 是一次 (栏目, 候选人) 选择
type Choice struct {
	SegmentID   uint
	CandidateID uint
}

// Page 是分页投票页面的状态，Index 从1开始
type Page struct {
	EventTitle string          `json:"event_title"`
	Segment    event.Segment   `json:"segment"`
	Segments   []event.Segment `json:"segments"`
	Index      int             `json:"current_segment"`
	Total      int             `json:"total_segments"`
}

// Receipt 是投票成功后返回的便利凭据，不可验证
type Receipt struct {
	Created int    `json:"created"`
	Receipt string `json:"receipt"`
}

// CandidateResult 是一个候选人的得票
type CandidateResult struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Votes int64  `json:"votes"`
}

// SegmentResult 是一个栏目的计票结果，没有候选人时 Winner 为nil
type SegmentResult struct {
	SegmentID  uint              `json:"segment_id"`
	Name       string            `json:"name"`
	Candidates []CandidateResult `json:"candidates"`
	Winner     *CandidateResult  `json:"winner"`
}

// CVRRow 是投票记录导出中的一行，时间只精确到分钟
type CVRRow struct {
	BallotID        string
	Segment         string
	Candidate       string
	CreatedAtMinute string
}

// CVRMinuteLayout 是导出时间戳的格式（UTC）
const CVRMinuteLayout = "2006-01-02 15:04"

// Service 实现投票箱
type Service struct {
	db      *gorm.DB
	handoff Handoff
	logger  *slog.Logger
	now     func() time.Time
}

// NewService 创建投票箱服务
func NewService(db *gorm.DB, handoff Handoff, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, handoff: handoff, logger: logger, now: time.Now}
}

// Redeem 通过通道兑换跳转码，返回新的匿名投票上下文
func (s *Service) Redeem(ctx context.Context, sessionUUID, code string) (*Context, error) {
	anonID, err := s.handoff.Redeem(ctx, code, sessionUUID)
	if err != nil {
		s.logger.Warn("bbs_redeem_failed", "event", sessionUUID, "error", err)
		return nil, err
	}
	return &Context{AnonID: anonID, SessionUUID: sessionUUID}, nil
}

// requireContext 检查匿名上下文存在并且属于同一个活动
func requireContext(bc *Context, sessionUUID string) error {
	if bc == nil || bc.AnonID == "" || bc.SessionUUID != sessionUUID {
		return ErrSessionExpired
	}
	return nil
}

// Page 返回第 index 个栏目的页面状态，index 会被限制在 [1, total] 内
func (s *Service) Page(ctx context.Context, bc *Context, sessionUUID string, index int) (*Page, error) {
	if err := requireContext(bc, sessionUUID); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	ev, err := event.BySessionUUID(ctx, db, sessionUUID)
	if err != nil {
		return nil, err
	}
	segments, err := event.Segments(ctx, db, ev.ID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	total := len(segments)
	index = max(1, min(total, index))
	return &Page{
		EventTitle: ev.Title,
		Segment:    segments[index-1],
		Segments:   segments,
		Index:      index,
		Total:      total,
	}, nil
}

// Cast 在一个事务中校验全部选择、写入核对卡与选票并标记会话已使用。
// 任何一步失败都会回滚全部写入。
func (s *Service) Cast(ctx context.Context, bc *Context, sessionUUID string, choices []Choice) (*Receipt, error) {
	if err := requireContext(bc, sessionUUID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := event.BySessionUUID(ctx, tx, sessionUUID)
		if err != nil {
			return err
		}

		// 1. 先校验全部选择，不做任何写入
		if err := validateChoices(tx, ev.ID, choices); err != nil {
			return err
		}

		// 2. 写入核对卡与选票
		card := ManualCheckCard{EventID: ev.ID, CreatedAt: now}
		if err := tx.Create(&card).Error; err != nil {
			return fmt.Errorf("创建核对卡失败: %w", err)
		}
		if len(choices) > 0 {
			ballots := make([]Ballot, 0, len(choices))
			for _, ch := range choices {
				ballots = append(ballots, Ballot{
					EventID:     ev.ID,
					CardID:      card.ID,
					SegmentID:   ch.SegmentID,
					CandidateID: ch.CandidateID,
					CreatedAt:   now,
				})
			}
			if err := tx.Create(&ballots).Error; err != nil {
				return fmt.Errorf("写入选票失败: %w", err)
			}
		}

		// 3. 标记会话已使用，失败则整个投票回滚
		if err := s.handoff.MarkSpent(ctx, tx, bc.AnonID, sessionUUID); err != nil {
			return err
		}

		_, err = audit.Append(tx, ev.ID, audit.TypeCastBatch, map[string]any{"count": len(choices)})
		return err
	})
	if err != nil {
		s.logger.Warn("bbs_cast_failed", "event", sessionUUID, "error", err)
		return nil, err
	}

	s.logger.Info("bbs_cast_ok", "event", sessionUUID, "count", len(choices))
	return &Receipt{Created: len(choices), Receipt: receipt(sessionUUID, now, len(choices))}, nil
}

// validateChoices 校验每个选择属于该活动，同一个 (栏目, 候选人) 只能出现一次
func validateChoices(tx *gorm.DB, eventID uint, choices []Choice) error {
	seen := make(map[Choice]struct{}, len(choices))
	for _, ch := range choices {
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("%w: %d/%d", ErrDuplicateChoice, ch.SegmentID, ch.CandidateID)
		}
		seen[ch] = struct{}{}

		var seg event.Segment
		err := tx.Where("id = ? AND event_id = ?", ch.SegmentID, eventID).Take(&seg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrInvalidSegment, ch.SegmentID)
		}
		if err != nil {
			return err
		}

		var cand event.Candidate
		err = tx.Where("id = ? AND event_id = ? AND segment_id = ?", ch.CandidateID, eventID, seg.ID).Take(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrInvalidCandidate, ch.CandidateID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// receipt 取 sha256(event:timestamp:count) 的前12个十六进制字符
func receipt(sessionUUID string, at time.Time, count int) string {
	sum := sha256.Sum256([]byte(sessionUUID + ":" + at.Format(time.RFC3339Nano) + ":" + strconv.Itoa(count)))
	return hex.EncodeToString(sum[:])[:12]
}

type countRow struct {
	SegmentID   uint
	CandidateID uint
	Votes       int64
}

// Results 按栏目汇总每个候选人的得票。
// 得票最多者获胜，平票时按候选人名字升序取第一个。
func (s *Service) Results(ctx context.Context, sessionUUID string) ([]SegmentResult, error) {
	db := s.db.WithContext(ctx)
	ev, err := event.BySessionUUID(ctx, db, sessionUUID)
	if err != nil {
		return nil, err
	}
	segments, err := event.Segments(ctx, db, ev.ID)
	if err != nil {
		return nil, err
	}

	var rows []countRow
	err = db.Model(&Ballot{}).
		Select("segment_id, candidate_id, COUNT(*) AS votes").
		Where("event_id = ?", ev.ID).
		Group("segment_id, candidate_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("汇总选票失败: %w", err)
	}
	counts := make(map[[2]uint]int64, len(rows))
	for _, r := range rows {
		counts[[2]uint{r.SegmentID, r.CandidateID}] = r.Votes
	}

	results := make([]SegmentResult, 0, len(segments))
	for _, seg := range segments {
		res := SegmentResult{SegmentID: seg.ID, Name: seg.Name, Candidates: make([]CandidateResult, 0, len(seg.Candidates))}
		for _, cand := range seg.Candidates {
			res.Candidates = append(res.Candidates, CandidateResult{
				ID:    cand.ID,
				Name:  cand.Name,
				Votes: counts[[2]uint{seg.ID, cand.ID}],
			})
		}
		res.Winner = winner(res.Candidates)
		results = append(results, res)
	}
	return results, nil
}

func winner(candidates []CandidateResult) *CandidateResult {
	if len(candidates) == 0 {
		return nil
	}
	ranked := append([]CandidateResult(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Votes != ranked[j].Votes {
			return ranked[i].Votes > ranked[j].Votes
		}
		return ranked[i].Name < ranked[j].Name
	})
	w := ranked[0]
	return &w
}

type cvrScan struct {
	BallotID  string
	Segment   string
	Candidate string
	CreatedAt time.Time
}

// ExportCVR 返回每张选票一行，按创建时间排序
func (s *Service) ExportCVR(ctx context.Context, sessionUUID string) ([]CVRRow, error) {
	db := s.db.WithContext(ctx)
	ev, err := event.BySessionUUID(ctx, db, sessionUUID)
	if err != nil {
		return nil, err
	}

	var scanned []cvrScan
	err = db.Table("ballots").
		Select("ballots.ballot_id, segments.name AS segment, candidates.name AS candidate, ballots.created_at").
		Joins("JOIN segments ON segments.id = ballots.segment_id").
		Joins("JOIN candidates ON candidates.id = ballots.candidate_id").
		Where("ballots.event_id = ?", ev.ID).
		Order("ballots.created_at asc").Order("ballots.ballot_id asc").
		Scan(&scanned).Error
	if err != nil {
		return nil, fmt.Errorf("导出选票失败: %w", err)
	}

	rows := make([]CVRRow, 0, len(scanned))
	for _, r := range scanned {
		rows = append(rows, CVRRow{
			BallotID:        r.BallotID,
			Segment:         r.Segment,
			Candidate:       r.Candidate,
			CreatedAtMinute: r.CreatedAt.UTC().Format(CVRMinuteLayout),
		})
	}
	return rows, nil
}
