// Package realtime 是按组寻址的发布/订阅总线，用来把动议与在线状态的变化推送给
// 已连接的管理端和选民端。投递是"即发即弃"的：只有此刻在线的订阅者能收到，
// 断线重连的客户端应通过拉取接口重新同步状态。
package realtime

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// Message 是推送给客户端的消息
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// 消息名
const (
	EventConnection      = "connection"
	EventHeartbeatAck    = "heartbeat_ack"
	EventPresenceUpdate  = "presence_update"
	EventMotionOpened    = "motion_opened"
	EventMotionPreviewed = "motion_previewed"
	EventMotionClosed    = "motion_closed"
	EventResultsRevealed = "results_revealed"
	EventResultsHidden   = "results_hidden"
	EventAdminVoteUpdate = "admin_vote_update"
	EventVoteAck         = "vote_ack"
	EventTimerUpdated    = "timer_updated"
	EventError           = "error"
)

// subscriberBuffer 是每个订阅者的缓冲，满了之后新消息被丢弃
const subscriberBuffer = 32

var unsafeGroupChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// VoterGroup 返回活动全体选民的组名
func VoterGroup(eventID uint) string {
	return fmt.Sprintf("motions_event_%d", eventID)
}

// AdminGroup 返回活动管理端的组名
func AdminGroup(eventID uint) string {
	return fmt.Sprintf("motions_admin_%d", eventID)
}

// UserGroup 返回单个参会者的组名，身份中的非法字符被替换为'-'，最长120个字符
func UserGroup(eventID uint, identity string) string {
	safe := unsafeGroupChars.ReplaceAllString(identity, "-")
	if len(safe) > 120 {
		safe = safe[:120]
	}
	return fmt.Sprintf("motions_user_%d_%s", eventID, safe)
}

// Subscriber 是一个订阅者，C 在取消订阅后关闭
type Subscriber struct {
	ch     chan Message
	groups []string
}

// C 返回接收消息的channel
func (s *Subscriber) C() <-chan Message { return s.ch }

// Hub 管理组与订阅者
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
	logger *slog.Logger
}

// NewHub 创建一个空的总线
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{groups: make(map[string]map[*Subscriber]struct{}), logger: logger}
}

// Subscribe 订阅一个或多个组
func (h *Hub) Subscribe(groups ...string) *Subscriber {
	s := &Subscriber{ch: make(chan Message, subscriberBuffer), groups: groups}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*Subscriber]struct{})
			h.groups[g] = members
		}
		members[s] = struct{}{}
	}
	return s
}

// Unsubscribe 取消订阅并关闭订阅者的channel，重复调用是安全的
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.groups == nil {
		return
	}
	for _, g := range s.groups {
		if members, ok := h.groups[g]; ok {
			delete(members, s)
			if len(members) == 0 {
				delete(h.groups, g)
			}
		}
	}
	s.groups = nil
	close(s.ch)
}

// Broadcast 把消息投递给组内当前的所有订阅者，返回实际投递的数量。
// 不会阻塞：缓冲已满的订阅者直接丢弃这条消息。
func (h *Hub) Broadcast(group, event string, payload any) int {
	msg := Message{Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.groups[group] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			h.logger.Debug("realtime_message_dropped", "group", group, "event", event)
		}
	}
	return delivered
}

// Size 返回组内订阅者数量
func (h *Hub) Size(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
