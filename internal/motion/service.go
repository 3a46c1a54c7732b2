// Package motion 实现会议现场的动议表决：同一活动同时最多一个开放的动议，
// 参会者可以投赞成、反对或弃权，实时计数写入共享缓存并推送给主持端。
package motion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
	"github.com/SlpAus/agm-voting-backend/internal/realtime"
	"github.com/SlpAus/agm-voting-backend/internal/tally"
)

// PreviewTTL 是预览载荷的缓存时间
const PreviewTTL = time.Hour

const (
	maxRetry   = 3
	retryDelay = 50 * time.Millisecond
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// PreviewKey 返回活动预览载荷的缓存键
func PreviewKey(eventID uint) string {
	return fmt.Sprintf("motions:preview:%d", eventID)
}

// Broadcaster 是实时推送的发送端
type Broadcaster interface {
	Broadcast(group, event string, payload any) int
}

// Service 是动议状态机与计票服务
type Service struct {
	db     *gorm.DB
	tally  *tally.Store
	kv     kv.Store
	bus    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewService 创建动议服务。bus 可以为nil，此时不做任何推送。
func NewService(db *gorm.DB, store kv.Store, bus Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		tally:  tally.NewStore(store),
		kv:     store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// VoteResult 是一次投票的结果
type VoteResult struct {
	MotionID uint   `json:"motion_id"`
	Choice   string `json:"choice"`
	Previous string `json:"previous,omitempty"`
	Created  bool   `json:"created"`
	Changed  bool   `json:"changed"`
}

// Snapshot 是参会者重新同步时看到的全部状态
type Snapshot struct {
	Open         *View `json:"open"`
	LatestClosed *View `json:"latest_closed"`
	Preview      *View `json:"preview"`
}

// TallyView 是主持端的计票视图，MotionID 为nil表示当前没有可展示的动议
type TallyView struct {
	MotionID *uint        `json:"motion_id"`
	Counts   tally.Counts `json:"counts"`
	Total    int64        `json:"total"`
}

// Draft 是创建动议的参数
type Draft struct {
	Title            string `json:"title" form:"title"`
	Body             string `json:"body" form:"body"`
	DisplayOrder     int    `json:"display_order" form:"display_order"`
	AllowVoteChange  *bool  `json:"allow_vote_change" form:"allow_vote_change"`
	RevealResults    bool   `json:"reveal_results" form:"reveal_results"`
	AutoCloseSeconds *int   `json:"auto_close_seconds" form:"auto_close_seconds"`
}

func (s *Service) emit(group, name string, payload any) {
	if s.bus != nil {
		s.bus.Broadcast(group, name, payload)
	}
}

func (s *Service) emitAll(eventID uint, name string, payload any) {
	s.emit(realtime.VoterGroup(eventID), name, payload)
	s.emit(realtime.AdminGroup(eventID), name, payload)
}

// transaction 执行事务，遇到短暂的锁冲突时短间隔重试
func (s *Service) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for i := 0; i < maxRetry; i++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !database.IsRetryableError(err) {
			return err
		}
		time.Sleep(retryDelay)
	}
	return err
}

// lockMotion 在事务中锁定动议行，requireActive 为真时还要求所属活动处于开放状态
func lockMotion(ctx context.Context, tx *gorm.DB, motionID uint, requireActive bool) (*Motion, error) {
	var m Motion
	err := tx.Clauses(forUpdate).Take(&m, motionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if requireActive {
		ev, err := event.ByID(ctx, tx, m.EventID)
		if err != nil {
			return nil, err
		}
		if !ev.IsActive {
			return nil, ErrInactiveSession
		}
	}
	return &m, nil
}

func activeEvent(ctx context.Context, db *gorm.DB, sessionUUID string) (*event.Event, error) {
	ev, err := event.BySessionUUID(ctx, db, sessionUUID)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive {
		return nil, ErrInactiveSession
	}
	return ev, nil
}

// recompute 从投票记录统计权威计数
func recompute(tx *gorm.DB, motionID uint) (tally.Counts, error) {
	var rows []struct {
		Choice string
		N      int64
	}
	err := tx.Model(&Vote{}).
		Select("choice, count(*) AS n").
		Where("motion_id = ?", motionID).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		return tally.Counts{}, fmt.Errorf("统计动议票数失败: %w", err)
	}
	var c tally.Counts
	for _, r := range rows {
		switch r.Choice {
		case tally.Yes:
			c.Yes = r.N
		case tally.No:
			c.No = r.N
		case tally.Abstain:
			c.Abstain = r.N
		}
	}
	return c, nil
}

// authoritative 统计权威计数并覆盖缓存
func (s *Service) authoritative(ctx context.Context, motionID uint) (tally.Counts, error) {
	counts, err := recompute(s.db.WithContext(ctx), motionID)
	if err != nil {
		return counts, err
	}
	s.storeCounts(ctx, motionID, counts)
	return counts, nil
}

func (s *Service) storeCounts(ctx context.Context, motionID uint, counts tally.Counts) {
	if err := s.tally.Set(ctx, motionID, counts); err != nil {
		s.logger.Warn("motion_tally_set_failed", "motion_id", motionID, "error", err)
	}
}

// liveCounts 读取缓存中的实时计数，缓存不可用时退回数据库统计
func (s *Service) liveCounts(ctx context.Context, motionID uint) tally.Counts {
	counts, err := s.tally.Get(ctx, motionID)
	if err == nil {
		return counts
	}
	s.logger.Warn("motion_tally_get_failed", "motion_id", motionID, "error", err)
	counts, err = recompute(s.db.WithContext(ctx), motionID)
	if err != nil {
		s.logger.Error("motion_tally_recompute_failed", "motion_id", motionID, "error", err)
	}
	return counts
}

// SessionUUID 返回动议所属活动的 session uuid
func (s *Service) SessionUUID(ctx context.Context, motionID uint) (string, error) {
	db := s.db.WithContext(ctx)
	var m Motion
	if err := db.Select("id", "event_id").Take(&m, motionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	ev, err := event.ByID(ctx, db, m.EventID)
	if err != nil {
		return "", err
	}
	return ev.SessionUUID, nil
}

// Create 创建一个草稿动议，DisplayOrder 为0时追加到末尾
func (s *Service) Create(ctx context.Context, sessionUUID string, d Draft) (*Motion, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, ErrMissingTitle
	}
	ev, err := activeEvent(ctx, s.db, sessionUUID)
	if err != nil {
		return nil, err
	}

	// 自动追加时并发创建可能读到同一个 MAX+1，冲突后重新读取
	auto := d.DisplayOrder <= 0
	var m Motion
	for attempt := 1; ; attempt++ {
		err = s.createOnce(ctx, ev.ID, title, d, &m)
		if !auto || !errors.Is(err, ErrDuplicateOrder) || attempt >= maxRetry {
			break
		}
		s.logger.Debug("motion_order_conflict_retry", "event_id", ev.ID, "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("motion_created", "motion_id", m.ID, "event_id", ev.ID)
	return &m, nil
}

func (s *Service) createOnce(ctx context.Context, eventID uint, title string, d Draft, m *Motion) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		order := d.DisplayOrder
		if order <= 0 {
			var last int
			if err := tx.Model(&Motion{}).
				Where("event_id = ?", eventID).
				Select("COALESCE(MAX(display_order), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			order = last + 1
		}

		*m = Motion{
			EventID:          eventID,
			Title:            title,
			Body:             d.Body,
			DisplayOrder:     order,
			Status:           StatusDraft,
			AllowVoteChange:  true,
			RevealResults:    d.RevealResults,
			AutoCloseSeconds: d.AutoCloseSeconds,
		}
		if err := tx.Create(m).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return ErrDuplicateOrder
			}
			return err
		}
		// default:true 的列不会写入零值，需要单独更新
		if d.AllowVoteChange != nil && !*d.AllowVoteChange {
			m.AllowVoteChange = false
			return tx.Model(m).Update("allow_vote_change", false).Error
		}
		return nil
	})
}

// List 按展示顺序返回活动的全部动议及各自的票数
func (s *Service) List(ctx context.Context, sessionUUID string) ([]*View, error) {
	ev, err := activeEvent(ctx, s.db, sessionUUID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var motions []Motion
	if err := db.Where("event_id = ?", ev.ID).Order("display_order, id").Find(&motions).Error; err != nil {
		return nil, fmt.Errorf("查询动议失败: %w", err)
	}
	var rows []struct {
		MotionID uint
		N        int64
	}
	err = db.Model(&Vote{}).
		Select("motion_votes.motion_id, count(*) AS n").
		Joins("JOIN motions ON motions.id = motion_votes.motion_id").
		Where("motions.event_id = ?", ev.ID).
		Group("motion_votes.motion_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计动议票数失败: %w", err)
	}
	votes := make(map[uint]int64, len(rows))
	for _, r := range rows {
		votes[r.MotionID] = r.N
	}

	views := make([]*View, 0, len(motions))
	for i := range motions {
		v := NewView(&motions[i])
		n := votes[motions[i].ID]
		v.VotesCount = &n
		views = append(views, v)
	}
	return views, nil
}

// Open 开启一个动议，同一活动中其他开放的动议被关闭
func (s *Service) Open(ctx context.Context, motionID uint) (*Motion, error) {
	var m Motion
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Take(&m, motionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// 1. 锁定活动行，同一活动的开启操作串行执行
		var ev event.Event
		if err := tx.Clauses(forUpdate).Take(&ev, m.EventID).Error; err != nil {
			return err
		}
		if !ev.IsActive {
			return ErrInactiveSession
		}

		// 2. 关闭其他开放的动议
		now := s.now()
		if err := tx.Model(&Motion{}).
			Where("event_id = ? AND status = ? AND id <> ?", ev.ID, StatusOpen, m.ID).
			Updates(map[string]any{"status": StatusClosed, "closed_at": now}).Error; err != nil {
			return err
		}

		// 3. 开启目标动议
		if err := tx.Model(&Motion{}).
			Where("id = ?", m.ID).
			Updates(map[string]any{"status": StatusOpen, "opened_at": now, "closed_at": nil}).Error; err != nil {
			return err
		}
		if err := tx.Take(&m, m.ID).Error; err != nil {
			return err
		}

		// 4. 提交前用已有的票重置缓存，重新开启的动议保留之前的票。
		// 此时动议行仍被锁定，新的投票只能在提交后累加。
		counts, err := recompute(tx, m.ID)
		if err != nil {
			return err
		}
		s.storeCounts(ctx, m.ID, counts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.clearPreview(ctx, m.EventID)
	s.emitAll(m.EventID, realtime.EventMotionOpened, NewView(&m))
	s.logger.Info("motion_opened", "motion_id", m.ID, "event_id", m.EventID)
	return &m, nil
}

// RecordVote 记录或修改一个参会者的选择
func (s *Service) RecordVote(ctx context.Context, motionID uint, identity, choice string) (*VoteResult, error) {
	if identity == "" {
		return nil, ErrUnauthorized
	}
	choice = strings.ToLower(strings.TrimSpace(choice))

	var m *Motion
	var res VoteResult
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res = VoteResult{MotionID: motionID, Choice: choice}

		// 1. 锁定动议行，投票与关闭互斥
		var err error
		m, err = lockMotion(ctx, tx, motionID, true)
		if err != nil {
			return err
		}
		if m.Status != StatusOpen {
			return ErrMotionClosed
		}
		if !ValidChoice(choice) {
			return ErrInvalidChoice
		}

		// 2. 查找已有的选择
		var existing Vote
		err = tx.Clauses(forUpdate).
			Where("motion_id = ? AND voter_identity = ?", m.ID, identity).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&Vote{MotionID: m.ID, VoterIdentity: identity, Choice: choice}).Error; err != nil {
				return err
			}
			res.Created = true
			return nil
		}
		if err != nil {
			return err
		}

		// 3. 修改选择
		if !m.AllowVoteChange {
			return &LockedError{Choice: existing.Choice}
		}
		if existing.Choice == choice {
			return nil
		}
		res.Previous = existing.Choice
		res.Changed = true
		return tx.Model(&existing).Update("choice", choice).Error
	})
	if err != nil {
		return nil, err
	}

	// 4. 事务提交后再更新缓存
	switch {
	case res.Created:
		err = s.tally.Add(ctx, m.ID, choice)
	case res.Changed:
		err = s.tally.Move(ctx, m.ID, res.Previous, choice)
	}
	if err != nil {
		s.logger.Warn("motion_tally_apply_failed", "motion_id", m.ID, "error", err)
	}

	counts := s.liveCounts(ctx, m.ID)
	s.emit(realtime.UserGroup(m.EventID, identity), realtime.EventVoteAck, res)
	s.emit(realtime.AdminGroup(m.EventID), realtime.EventAdminVoteUpdate, map[string]any{"motion_id": m.ID, "counts": counts})
	return &res, nil
}

// Close 关闭动议并以数据库中的票为准重写缓存
func (s *Service) Close(ctx context.Context, motionID uint) (*Motion, tally.Counts, error) {
	return s.close(ctx, motionID, true, nil)
}

// close 关闭动议。check 在持有行锁后调用，返回错误时放弃关闭。
func (s *Service) close(ctx context.Context, motionID uint, requireActive bool, check func(*Motion, time.Time) error) (*Motion, tally.Counts, error) {
	var m *Motion
	var counts tally.Counts
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = lockMotion(ctx, tx, motionID, requireActive)
		if err != nil {
			return err
		}
		now := s.now()
		if check != nil {
			if err := check(m, now); err != nil {
				return err
			}
		}
		if err := tx.Model(m).Updates(map[string]any{"status": StatusClosed, "closed_at": now}).Error; err != nil {
			return err
		}
		m.Status = StatusClosed
		m.ClosedAt = &now
		counts, err = recompute(tx, m.ID)
		return err
	})
	if err != nil {
		return nil, tally.Counts{}, err
	}

	s.storeCounts(ctx, m.ID, counts)
	view := NewView(m)
	view.Counts = &counts
	s.emitAll(m.EventID, realtime.EventMotionClosed, view)
	if m.RevealResults {
		s.emit(realtime.VoterGroup(m.EventID), realtime.EventResultsRevealed, map[string]any{"motion_id": m.ID, "counts": counts})
	}
	s.logger.Info("motion_closed", "motion_id", m.ID, "event_id", m.EventID, "total", counts.Total())
	return m, counts, nil
}

// Reset 删除动议的全部投票并清零缓存
func (s *Service) Reset(ctx context.Context, motionID uint) (tally.Counts, error) {
	var m *Motion
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = lockMotion(ctx, tx, motionID, true)
		if err != nil {
			return err
		}
		if err := tx.Where("motion_id = ?", m.ID).Delete(&Vote{}).Error; err != nil {
			return err
		}
		// 持有行锁时清零缓存
		s.storeCounts(ctx, m.ID, tally.Counts{})
		return nil
	})
	if err != nil {
		return tally.Counts{}, err
	}

	var zero tally.Counts
	s.emitAll(m.EventID, realtime.EventAdminVoteUpdate, map[string]any{"motion_id": m.ID, "counts": zero})
	s.logger.Info("motion_reset", "motion_id", m.ID, "event_id", m.EventID)
	return zero, nil
}

// Reveal 公开动议结果
func (s *Service) Reveal(ctx context.Context, motionID uint) (tally.Counts, error) {
	m, err := s.setReveal(ctx, motionID, true)
	if err != nil {
		return tally.Counts{}, err
	}
	counts, err := s.authoritative(ctx, m.ID)
	if err != nil {
		return tally.Counts{}, err
	}
	s.emitAll(m.EventID, realtime.EventResultsRevealed, map[string]any{"motion_id": m.ID, "counts": counts})
	return counts, nil
}

// Hide 撤回公开的结果
func (s *Service) Hide(ctx context.Context, motionID uint) error {
	m, err := s.setReveal(ctx, motionID, false)
	if err != nil {
		return err
	}
	s.emit(realtime.VoterGroup(m.EventID), realtime.EventResultsHidden, map[string]any{"motion_id": m.ID})
	return nil
}

func (s *Service) setReveal(ctx context.Context, motionID uint, reveal bool) (*Motion, error) {
	var m *Motion
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = lockMotion(ctx, tx, motionID, true)
		if err != nil {
			return err
		}
		m.RevealResults = reveal
		return tx.Model(m).Update("reveal_results", reveal).Error
	})
	return m, err
}

// SetTimer 设置或延长开放动议的自动关闭计时。
// extend 在剩余时间上追加；seconds 直接设为新的时长。两者都从现在重新计时。
func (s *Service) SetTimer(ctx context.Context, motionID uint, seconds, extend *int) (*Motion, error) {
	var m *Motion
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = lockMotion(ctx, tx, motionID, true)
		if err != nil {
			return err
		}
		if m.Status != StatusOpen {
			return ErrNotOpen
		}
		if seconds == nil && extend == nil {
			return ErrMissingSeconds
		}

		now := s.now()
		current := 0
		if m.AutoCloseSeconds != nil {
			current = *m.AutoCloseSeconds
		}
		elapsed := 0
		if m.OpenedAt != nil && current > 0 {
			elapsed = max(0, int(now.Sub(*m.OpenedAt).Seconds()))
		}
		remaining := max(0, current-elapsed)

		var target int
		if extend != nil {
			target = remaining + max(0, *extend)
		} else {
			target = max(0, *seconds)
		}

		m.OpenedAt = &now
		m.AutoCloseSeconds = &target
		return tx.Model(m).Updates(map[string]any{"opened_at": now, "auto_close_seconds": target}).Error
	})
	if err != nil {
		return nil, err
	}
	s.emitAll(m.EventID, realtime.EventTimerUpdated, NewView(m))
	return m, nil
}

// Reorder 把动议与上方或下方相邻的动议交换位置
func (s *Service) Reorder(ctx context.Context, motionID uint, direction string) error {
	if direction != "up" && direction != "down" {
		return ErrInvalidDirection
	}
	return s.transaction(ctx, func(tx *gorm.DB) error {
		m, err := lockMotion(ctx, tx, motionID, true)
		if err != nil {
			return err
		}

		var neighbor Motion
		q := tx.Clauses(forUpdate).Where("event_id = ?", m.EventID)
		if direction == "up" {
			q = q.Where("display_order < ?", m.DisplayOrder).Order("display_order DESC")
		} else {
			q = q.Where("display_order > ?", m.DisplayOrder).Order("display_order ASC")
		}
		err = q.Take(&neighbor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		mine, theirs := m.DisplayOrder, neighbor.DisplayOrder
		// 先移到一个临时位置，避免交换过程中违反唯一约束
		if err := tx.Model(&Motion{}).Where("id = ?", m.ID).Update("display_order", -int(m.ID)).Error; err != nil {
			return err
		}
		if err := tx.Model(&Motion{}).Where("id = ?", neighbor.ID).Update("display_order", mine).Error; err != nil {
			return err
		}
		return tx.Model(&Motion{}).Where("id = ?", m.ID).Update("display_order", theirs).Error
	})
}

// Preview 向参会者预告一个动议。已有其他动议开放时拒绝。
func (s *Service) Preview(ctx context.Context, motionID uint) (*View, error) {
	db := s.db.WithContext(ctx)
	var m Motion
	if err := db.Take(&m, motionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ev, err := event.ByID(ctx, db, m.EventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive {
		return nil, ErrInactiveSession
	}

	open, err := s.openMotion(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if open != nil && open.ID != m.ID {
		return nil, ErrAnotherMotionOpen
	}

	view, err := s.previewView(ctx, &m)
	if err != nil {
		return nil, err
	}
	s.storePreview(ctx, ev.ID, view)
	s.emit(realtime.VoterGroup(ev.ID), realtime.EventMotionPreviewed, view)
	return view, nil
}

func (s *Service) previewView(ctx context.Context, m *Motion) (*View, error) {
	view := NewView(m)
	draft := m.Status == StatusDraft
	view.Preview = &draft
	if m.Status == StatusClosed && m.RevealResults {
		counts, err := s.authoritative(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		view.Counts = &counts
	}
	return view, nil
}

func (s *Service) storePreview(ctx context.Context, eventID uint, view *View) {
	data, err := json.Marshal(view)
	if err != nil {
		s.logger.Error("motion_preview_encode_failed", "event_id", eventID, "error", err)
		return
	}
	if err := s.kv.SetValue(ctx, PreviewKey(eventID), data, PreviewTTL); err != nil {
		s.logger.Warn("motion_preview_store_failed", "event_id", eventID, "error", err)
	}
}

func (s *Service) clearPreview(ctx context.Context, eventID uint) {
	if err := s.kv.Delete(ctx, PreviewKey(eventID)); err != nil {
		s.logger.Warn("motion_preview_clear_failed", "event_id", eventID, "error", err)
	}
}

// loadPreview 读取缓存的预览，并用动议的最新状态刷新它。动议已不存在时清除缓存。
func (s *Service) loadPreview(ctx context.Context, eventID uint) (*View, error) {
	data, err := s.kv.Value(ctx, PreviewKey(eventID))
	if err != nil || data == nil {
		return nil, err
	}
	var cached struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(data, &cached); err != nil || cached.ID == 0 {
		s.clearPreview(ctx, eventID)
		return nil, nil
	}

	var m Motion
	err = s.db.WithContext(ctx).Where("id = ? AND event_id = ?", cached.ID, eventID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.clearPreview(ctx, eventID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view, err := s.previewView(ctx, &m)
	if err != nil {
		return nil, err
	}
	s.storePreview(ctx, eventID, view)
	return view, nil
}

// openMotion 返回活动当前开放的动议，没有时返回nil
func (s *Service) openMotion(ctx context.Context, eventID uint) (*Motion, error) {
	var m Motion
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, StatusOpen).
		Order("display_order, id").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) latestClosed(ctx context.Context, eventID uint) (*Motion, error) {
	var m Motion
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, StatusClosed).
		Order("closed_at DESC, id DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// selection 返回参会者在动议上的选择
func (s *Service) selection(ctx context.Context, motionID uint, identity string) (*string, error) {
	if identity == "" {
		return nil, nil
	}
	var v Vote
	err := s.db.WithContext(ctx).
		Where("motion_id = ? AND voter_identity = ?", motionID, identity).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v.Choice, nil
}

// Current 返回参会者重新同步所需的状态：开放的动议及其选择、最近一个已公开结果的动议、预览
func (s *Service) Current(ctx context.Context, sessionUUID, identity string) (*Snapshot, error) {
	ev, err := activeEvent(ctx, s.db, sessionUUID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}

	open, err := s.openMotion(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		snap.Open = NewView(open)
		if snap.Open.Selection, err = s.selection(ctx, open.ID, identity); err != nil {
			return nil, err
		}
		// 有开放的动议时预览失效
		s.clearPreview(ctx, ev.ID)
	} else if snap.Preview, err = s.loadPreview(ctx, ev.ID); err != nil {
		return nil, err
	}

	closed, err := s.latestClosed(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if closed != nil && closed.RevealResults {
		counts, err := s.authoritative(ctx, closed.ID)
		if err != nil {
			return nil, err
		}
		snap.LatestClosed = NewView(closed)
		snap.LatestClosed.Counts = &counts
		if snap.LatestClosed.Selection, err = s.selection(ctx, closed.ID, identity); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Tallies 返回主持端的计票。motionID 为0时取当前开放的动议。
// 已关闭的动议以数据库为准，开放的动议读取实时缓存。
func (s *Service) Tallies(ctx context.Context, sessionUUID string, motionID uint) (*TallyView, error) {
	ev, err := activeEvent(ctx, s.db, sessionUUID)
	if err != nil {
		return nil, err
	}

	var m *Motion
	if motionID != 0 {
		var found Motion
		err := s.db.WithContext(ctx).Where("id = ? AND event_id = ?", motionID, ev.ID).Take(&found).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		m = &found
	} else if m, err = s.openMotion(ctx, ev.ID); err != nil {
		return nil, err
	}
	if m == nil {
		return &TallyView{}, nil
	}

	var counts tally.Counts
	if m.Status == StatusClosed {
		if counts, err = s.authoritative(ctx, m.ID); err != nil {
			return nil, err
		}
	} else {
		counts = s.liveCounts(ctx, m.ID)
	}
	id := m.ID
	return &TallyView{MotionID: &id, Counts: counts, Total: counts.Total()}, nil
}

// RebuildCache 用数据库中的票重建所有开放动议的计票缓存
func (s *Service) RebuildCache(ctx context.Context) (int, error) {
	var motions []Motion
	if err := s.db.WithContext(ctx).Where("status = ?", StatusOpen).Find(&motions).Error; err != nil {
		return 0, fmt.Errorf("查询开放的动议失败: %w", err)
	}
	for _, m := range motions {
		counts, err := recompute(s.db.WithContext(ctx), m.ID)
		if err != nil {
			return 0, err
		}
		if err := s.tally.Set(ctx, m.ID, counts); err != nil {
			return 0, fmt.Errorf("写入动议 %d 的计票缓存失败: %w", m.ID, err)
		}
	}
	return len(motions), nil
}

// ActiveEvent 返回开放中的活动
func (s *Service) ActiveEvent(ctx context.Context, sessionUUID string) (*event.Event, error) {
	return activeEvent(ctx, s.db, sessionUUID)
}
