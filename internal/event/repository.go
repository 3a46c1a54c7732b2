// Package event 提供活动、选票栏目、候选人与选民花名册的持久化模型和查询。
package event

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound 表示活动不存在
var ErrNotFound = errors.New("event not found")

// BySessionUUID 按对外标识查找活动
func BySessionUUID(ctx context.Context, db *gorm.DB, sessionUUID string) (*Event, error) {
	if sessionUUID == "" {
		return nil, ErrNotFound
	}
	var ev Event
	err := db.WithContext(ctx).Where("session_uuid = ?", sessionUUID).Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询活动失败: %w", err)
	}
	return &ev, nil
}

// ByID 按主键查找活动
func ByID(ctx context.Context, db *gorm.DB, id uint) (*Event, error) {
	var ev Event
	err := db.WithContext(ctx).Take(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询活动失败: %w", err)
	}
	return &ev, nil
}

// Segments 返回活动的全部栏目（含候选人），按 (position, id) 排序，候选人按 id 排序
func Segments(ctx context.Context, db *gorm.DB, eventID uint) ([]Segment, error) {
	var segments []Segment
	err := db.WithContext(ctx).
		Preload("Candidates", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Where("event_id = ?", eventID).
		Order("position asc").Order("id asc").
		Find(&segments).Error
	if err != nil {
		return nil, fmt.Errorf("查询栏目失败: %w", err)
	}
	return segments, nil
}

// FindVoter 按不区分大小写的姓名匹配花名册，包含待审核的选民。
// 同名时返回id最小的一条。
func FindVoter(tx *gorm.DB, eventID uint, given, family string) (*Voter, error) {
	var voter Voter
	err := tx.Where("event_id = ? AND given_key = ? AND family_key = ?", eventID, NameKey(given), NameKey(family)).
		Order("id asc").Take(&voter).Error
	if err != nil {
		return nil, err
	}
	return &voter, nil
}

// RosterSpec 描述一次批量导入的内容
type RosterSpec struct {
	Title    string
	Segments []SegmentSpec
	Voters   [][2]string
}

// SegmentSpec 描述一个栏目及其候选人
type SegmentSpec struct {
	Name       string
	Candidates []string
}

// Seed 在一个事务中创建活动、栏目、候选人和选民
func Seed(ctx context.Context, db *gorm.DB, spec RosterSpec) (*Event, error) {
	ev := Event{Title: spec.Title, IsActive: true}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		for i, s := range spec.Segments {
			seg := Segment{EventID: ev.ID, Name: s.Name, Position: i + 1}
			if err := tx.Create(&seg).Error; err != nil {
				return err
			}
			for _, name := range s.Candidates {
				if err := tx.Create(&Candidate{EventID: ev.ID, SegmentID: seg.ID, Name: name}).Error; err != nil {
					return err
				}
			}
		}
		for _, v := range spec.Voters {
			if err := tx.Create(&Voter{EventID: ev.ID, GivenName: v[0], FamilyName: v[1]}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("导入活动失败: %w", err)
	}
	return &ev, nil
}

// List 返回所有活动，最新创建的在前
func List(ctx context.Context, db *gorm.DB) ([]Event, error) {
	var events []Event
	if err := db.WithContext(ctx).Order("id desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询活动失败: %w", err)
	}
	return events, nil
}

// SetActive 开启或关闭一个活动。关闭后的活动不再接受验证、投票和动议操作。
func SetActive(ctx context.Context, db *gorm.DB, sessionUUID string, active bool) error {
	res := db.WithContext(ctx).Model(&Event{}).
		Where("session_uuid = ?", sessionUUID).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("更新活动状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
