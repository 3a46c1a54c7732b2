package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/SlpAus/agm-voting-backend/internal/event"
)

// 自定义的WebSocket关闭码
const (
	CloseUnauthorized  = 4401
	CloseForbidden     = 4403
	CloseEventNotFound = 4404
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	directBuffer   = 8
)

// Presence 是WebSocket端点需要的在线状态操作
type Presence interface {
	Heartbeat(ctx context.Context, eventID uint, identity string) (int64, error)
	Count(ctx context.Context, eventID uint) (int64, error)
	MarkGone(ctx context.Context, eventID uint, identity string) error
}

// Endpoints 是动议频道的选民端与管理端WebSocket入口
type Endpoints struct {
	hub       *Hub
	db        *gorm.DB
	presence  Presence
	identify  func(*gin.Context) string
	authorize func(*gin.Context) bool
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// EndpointOptions 配置WebSocket入口
type EndpointOptions struct {
	// Identify 返回请求对应的参会者身份，空串表示无法识别
	Identify func(*gin.Context) string
	// Authorize 判断请求是否来自已登录的工作人员
	Authorize func(*gin.Context) bool
	// AllowedOrigins 为空时接受任意来源
	AllowedOrigins []string
}

// NewEndpoints 创建WebSocket入口
func NewEndpoints(hub *Hub, db *gorm.DB, presence Presence, opts EndpointOptions, logger *slog.Logger) *Endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	return &Endpoints{
		hub:       hub,
		db:        db,
		presence:  presence,
		identify:  opts.Identify,
		authorize: opts.Authorize,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || slices.Contains(origins, origin)
			},
		},
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

// conn 包装一条WebSocket连接。所有写操作都在 writePump 中完成。
type conn struct {
	ws     *websocket.Conn
	sub    *Subscriber
	direct chan Message
	done   chan struct{}
}

func newConn(ws *websocket.Conn, sub *Subscriber) *conn {
	return &conn{ws: ws, sub: sub, direct: make(chan Message, directBuffer), done: make(chan struct{})}
}

// send 向本连接单独发送一条消息，缓冲满时丢弃
func (c *conn) send(event string, payload any) {
	select {
	case c.direct <- Message{Event: event, Payload: payload}:
	default:
	}
}

func (c *conn) write(msg Message) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			if err := c.write(msg); err != nil {
				return
			}
		case msg := <-c.direct:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop 阻塞读取客户端消息直到连接断开
func (c *conn) readLoop(handle func(clientMessage)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// 无法解析的消息按未知类型处理，不断开连接
			msg = clientMessage{}
		}
		handle(msg)
	}
}

// rejectAfterUpgrade 以自定义关闭码结束刚建立的连接
func rejectAfterUpgrade(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = ws.Close()
}

func (e *Endpoints) lookupEvent(c *gin.Context) (*event.Event, error) {
	return event.BySessionUUID(c.Request.Context(), e.db, c.Param("uuid"))
}

func (e *Endpoints) emitPresence(eventID uint, count int64) {
	payload := gin.H{"count": count}
	e.hub.Broadcast(AdminGroup(eventID), EventPresenceUpdate, payload)
	e.hub.Broadcast(VoterGroup(eventID), EventPresenceUpdate, payload)
}

// Voter 处理 GET /ws/motions/:uuid/voter
func (e *Endpoints) Voter(c *gin.Context) {
	ws, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}

	ev, err := e.lookupEvent(c)
	if err != nil {
		rejectAfterUpgrade(ws, CloseEventNotFound, "event not found")
		return
	}
	identity := ""
	if e.identify != nil {
		identity = e.identify(c)
	}
	if identity == "" {
		rejectAfterUpgrade(ws, CloseUnauthorized, "identity required")
		return
	}

	// 连接与心跳使用独立于请求的context，Upgrade之后请求context可能已结束
	ctx := context.WithoutCancel(c.Request.Context())

	sub := e.hub.Subscribe(VoterGroup(ev.ID), UserGroup(ev.ID, identity))
	cn := newConn(ws, sub)
	go cn.writePump()

	heartbeat := func() int64 {
		count, err := e.presence.Heartbeat(ctx, ev.ID, identity)
		if err != nil {
			e.logger.Warn("presence_heartbeat_failed", "event_id", ev.ID, "error", err)
		}
		return count
	}

	count := heartbeat()
	e.emitPresence(ev.ID, count)
	cn.send(EventConnection, gin.H{"status": "connected"})
	e.logger.Debug("ws_voter_connected", "event_id", ev.ID)

	cn.readLoop(func(msg clientMessage) {
		switch msg.Type {
		case "heartbeat", "ping":
			count := heartbeat()
			e.emitPresence(ev.ID, count)
			cn.send(EventHeartbeatAck, gin.H{"active_count": count})
		default:
			cn.send(EventError, gin.H{"message": "Unknown event type"})
		}
	})

	// 断开：先退订，再把自己移出在线窗口并广播新的人数
	close(cn.done)
	e.hub.Unsubscribe(sub)
	if err := e.presence.MarkGone(ctx, ev.ID, identity); err != nil {
		e.logger.Warn("presence_mark_gone_failed", "event_id", ev.ID, "error", err)
	}
	count, err = e.presence.Count(ctx, ev.ID)
	if err != nil {
		e.logger.Warn("presence_count_failed", "event_id", ev.ID, "error", err)
	}
	e.emitPresence(ev.ID, count)
	e.logger.Debug("ws_voter_disconnected", "event_id", ev.ID)
}

// Admin 处理 GET /ws/motions/:uuid/admin
func (e *Endpoints) Admin(c *gin.Context) {
	ws, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}

	if e.authorize == nil || !e.authorize(c) {
		rejectAfterUpgrade(ws, CloseForbidden, "staff login required")
		return
	}
	ev, err := e.lookupEvent(c)
	if err != nil {
		rejectAfterUpgrade(ws, CloseEventNotFound, "event not found")
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	count := func() int64 {
		n, err := e.presence.Count(ctx, ev.ID)
		if err != nil {
			e.logger.Warn("presence_count_failed", "event_id", ev.ID, "error", err)
		}
		return n
	}

	sub := e.hub.Subscribe(AdminGroup(ev.ID))
	cn := newConn(ws, sub)
	go cn.writePump()

	cn.send(EventPresenceUpdate, gin.H{"count": count(), "role": "moderator"})

	cn.readLoop(func(msg clientMessage) {
		switch msg.Type {
		case "heartbeat", "ping":
			cn.send(EventHeartbeatAck, gin.H{"active_count": count(), "role": "moderator"})
		default:
			cn.send(EventError, gin.H{"message": "Unknown event type"})
		}
	})

	close(cn.done)
	e.hub.Unsubscribe(sub)
}
