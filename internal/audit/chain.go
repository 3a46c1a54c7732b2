// Package audit 实现按活动分链的、只追加的哈希链审计日志。
//
// 每条记录的哈希为 sha256(prev_hash ‖ canonical(event_type, payload))，
// 第一条记录的 prev_hash 为空串。任何一条记录被改动都会使其后的所有哈希失效。
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrChainBroken 表示链校验失败
var ErrChainBroken = errors.New("audit: hash chain broken")

// Canonical 返回 (event_type, payload) 的规范化序列化。
// encoding/json 对map按键排序，因此相同内容总是得到相同字节。
func Canonical(eventType string, payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(map[string]any{"payload": payload, "type": eventType})
}

// Hash 计算一条记录的哈希
func Hash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// Append 在调用方的事务中向活动的链尾追加一条记录。
// 返回的错误必须让外层事务回滚：未记录审计的状态变更不允许提交。
func Append(tx *gorm.DB, eventID uint, eventType string, payload map[string]any) (*Entry, error) {
	canonical, err := Canonical(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("序列化审计载荷失败: %w", err)
	}
	payloadJSON, err := json.Marshal(payloadOrEmpty(payload))
	if err != nil {
		return nil, fmt.Errorf("序列化审计载荷失败: %w", err)
	}

	// 1. 确保链头存在，然后对它加锁
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Head{EventID: eventID}).Error; err != nil {
		return nil, fmt.Errorf("创建审计链头失败: %w", err)
	}
	var head Head
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("event_id = ?", eventID).Take(&head).Error; err != nil {
		return nil, fmt.Errorf("锁定审计链头失败: %w", err)
	}

	// 2. 计算新记录
	entry := Entry{
		EventID:   eventID,
		Seq:       head.Seq + 1,
		EventType: eventType,
		Payload:   string(payloadJSON),
		PrevHash:  head.Hash,
		ThisHash:  Hash(head.Hash, canonical),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("写入审计记录失败: %w", err)
	}

	// 3. 推进链头
	if err := tx.Model(&Head{}).Where("event_id = ?", eventID).
		Updates(map[string]any{"seq": entry.Seq, "hash": entry.ThisHash}).Error; err != nil {
		return nil, fmt.Errorf("更新审计链头失败: %w", err)
	}
	return &entry, nil
}

func payloadOrEmpty(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

// VerifyEntries 对按 seq 排序的记录做一次纯折叠校验。
// 返回第一条不一致记录的 seq，全部通过时返回 0。
func VerifyEntries(entries []Entry) (uint64, error) {
	prev := ""
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			return e.Seq, fmt.Errorf("%w: seq %d 不连续", ErrChainBroken, e.Seq)
		}
		if e.PrevHash != prev {
			return e.Seq, fmt.Errorf("%w: seq %d 的 prev_hash 不匹配", ErrChainBroken, e.Seq)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			return e.Seq, fmt.Errorf("%w: seq %d 载荷无法解析: %v", ErrChainBroken, e.Seq, err)
		}
		canonical, err := Canonical(e.EventType, payload)
		if err != nil {
			return e.Seq, err
		}
		if Hash(prev, canonical) != e.ThisHash {
			return e.Seq, fmt.Errorf("%w: seq %d 的哈希不匹配", ErrChainBroken, e.Seq)
		}
		prev = e.ThisHash
	}
	return 0, nil
}

// Verify 读取一个活动的完整审计链并校验
func Verify(db *gorm.DB, eventID uint) (int, error) {
	var entries []Entry
	if err := db.Where("event_id = ?", eventID).Order("seq asc").Find(&entries).Error; err != nil {
		return 0, err
	}
	if _, err := VerifyEntries(entries); err != nil {
		return len(entries), err
	}
	return len(entries), nil
}

// List 返回一个活动的审计记录，按 seq 升序
func List(db *gorm.DB, eventID uint) ([]Entry, error) {
	var entries []Entry
	err := db.Where("event_id = ?", eventID).Order("seq asc").Find(&entries).Error
	return entries, err
}
