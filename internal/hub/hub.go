package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
	"github.com/yuta1414win/PLAINER-sub001/internal/registry"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用。
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// HubMessage 是 Hub 内部通道传递的消息。
type HubMessage struct {
	Type    string // "register", "unregister", "event"
	Client  *Client
	RawData []byte // 仅用于 event（原始 WebSocket 帧）
}

// Hub 维护活跃客户端集合并协调全部跨客户端广播。
// 入站事件在 Run 的单一循环里按到达顺序串行处理，保证
// 同一连接内的消息按发送顺序生效；跨房间状态的原子性由
// Registry 的房间锁保证。
type Hub struct {
	messageChan chan HubMessage

	// 已完成 join 的客户端，按房间组织。
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	reg *registry.Registry
	log *logrus.Entry
}

// NewHub 创建 Hub 实例。
func NewHub(reg *registry.Registry) *Hub {
	if reg == nil {
		panic("Registry cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[string]map[*Client]bool),
		reg:         reg,
		log:         logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 主事件循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	h.log.Info("Hub is running...")
	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			// 连接已升级但尚未 join；等待其首条 join-room 事件。
			h.log.Debug("Client connection registered, awaiting join-room")
		case "unregister":
			h.unregisterClient(msg.Client)
		case "event":
			// 串行处理，保持单连接 FIFO。
			h.handleClientEvent(msg.Client, msg.RawData)
		default:
			h.log.Warnf("Hub: received unknown internal message type: %s", msg.Type)
		}
	}
	h.log.Info("Hub is shutting down...")
}

// Stop 关闭 Hub 的消息通道，令 Run 循环退出。
func (h *Hub) Stop() {
	close(h.messageChan)
}

// QueueMessage 将消息放入 Hub 的处理队列（非阻塞）。
// 返回 false 表示队列已满，消息被丢弃。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		h.log.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// handleClientEvent 解码并分发一条客户端事件。
// 单条非法消息只丢弃并记录，不关闭连接。
func (h *Hub) handleClientEvent(c *Client, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID()).Warn("Dropping malformed message")
		h.sendEvent(c, protocol.EventError, protocol.Error{
			Code:    protocol.ErrCodeBadRequest,
			Message: "malformed message",
		})
		return
	}

	// join 之前只接受 join-room 与 ping。
	if !c.joined && env.Type != protocol.EventJoinRoom && env.Type != protocol.EventPing {
		h.sendEvent(c, protocol.EventError, protocol.Error{
			Code:    protocol.ErrCodeNotJoined,
			Message: "join-room required before " + string(env.Type),
		})
		return
	}

	switch env.Type {
	case protocol.EventJoinRoom:
		h.handleJoin(c, env)
	case protocol.EventLeaveRoom:
		h.handleLeave(c)
	case protocol.EventCursorUpdate:
		h.handleCursor(c, env)
	case protocol.EventContentChange:
		h.handleContentChange(c, env)
	case protocol.EventLockAcquire:
		h.handleLockAcquire(c, env)
	case protocol.EventLockRelease:
		h.handleLockRelease(c, env)
	case protocol.EventRoleChange:
		h.handleRoleChange(c, env)
	case protocol.EventCommentAdd, protocol.EventCommentUpdate, protocol.EventCommentDelete, protocol.EventCommentResolve:
		h.handleComment(c, env)
	case protocol.EventPing:
		if c.joined {
			h.reg.Touch(c.roomID, c.user.ID)
		}
		h.sendEvent(c, protocol.EventPong, nil)
	default:
		h.log.WithFields(logrus.Fields{
			"event":   env.Type,
			"user_id": c.UserID(),
		}).Warn("Dropping unknown event type")
	}
}

// handleJoin 处理握手。拒绝是终态：发送 join-rejected 后关闭连接。
func (h *Hub) handleJoin(c *Client, env protocol.Envelope) {
	var req protocol.JoinRoom
	if err := protocol.DecodePayload(env, &req); err != nil {
		h.log.WithError(err).Warn("Malformed join-room payload")
		h.sendEvent(c, protocol.EventJoinRejected, protocol.JoinRejected{
			Code:   protocol.ErrCodeBadRequest,
			Reason: "malformed join-room payload",
		})
		h.disconnectClient(c)
		return
	}
	if req.RoomID == "" || req.User.ID == "" {
		h.sendEvent(c, protocol.EventJoinRejected, protocol.JoinRejected{
			Code:   protocol.ErrCodeBadRequest,
			Reason: "room_id and user.id are required",
		})
		h.disconnectClient(c)
		return
	}

	logCtx := h.log.WithFields(logrus.Fields{"room_id": req.RoomID, "user_id": req.User.ID})

	result, err := h.reg.Join(req.RoomID, req.User, registry.Credentials{
		Password:    req.Password,
		InviteToken: req.InviteToken,
	})
	if err != nil {
		code := protocol.RejectRoleDenied
		switch {
		case errors.Is(err, registry.ErrBadPassword):
			code = protocol.RejectBadPassword
		case errors.Is(err, registry.ErrInviteRequired):
			code = protocol.RejectInviteNeeded
		case errors.Is(err, registry.ErrInviteInvalid):
			code = protocol.RejectInviteInvalid
		}
		logCtx.WithError(err).Warn("Join rejected")
		h.sendEvent(c, protocol.EventJoinRejected, protocol.JoinRejected{Code: code, Reason: err.Error()})
		h.disconnectClient(c)
		return
	}

	// 同一用户的旧连接（如果还挂着）让位给新连接。
	h.evictStaleConnection(req.RoomID, req.User.ID, c)

	c.roomID = req.RoomID
	c.user = req.User
	c.joined = true

	h.roomsMu.Lock()
	if _, ok := h.rooms[c.roomID]; !ok {
		h.rooms[c.roomID] = make(map[*Client]bool)
	}
	h.rooms[c.roomID][c] = true
	h.roomsMu.Unlock()

	h.sendEvent(c, protocol.EventRoomJoined, protocol.RoomJoined{
		Role:     result.Role,
		Snapshot: result.Snapshot,
	})
	h.broadcastEvent(c.roomID, protocol.EventPresenceJoined, protocol.PresenceJoined{Member: result.Member}, c)
	logCtx.WithField("role", result.Role).Info("Client joined room")
}

// handleLeave 处理显式 leave-room：释放全部锁并广播，然后断开。
func (h *Hub) handleLeave(c *Client) {
	released := h.reg.ReleaseAllLocks(c.roomID, c.user.ID)
	for _, res := range released {
		h.broadcastEvent(c.roomID, protocol.EventLockReleased, protocol.LockReleased{ResourceID: res}, nil)
	}
	h.disconnectClient(c)
}

func (h *Hub) handleCursor(c *Client, env protocol.Envelope) {
	var cur protocol.CursorUpdate
	if err := protocol.DecodePayload(env, &cur); err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID()).Debug("Dropping malformed cursor-update")
		return
	}
	// 身份与时间戳由服务端盖章，客户端声明的值不可信。
	cur.UserID = c.user.ID
	cur.UpdatedAt = time.Now().UTC()
	h.broadcastEvent(c.roomID, protocol.EventCursorUpdate, cur, c)
}

func (h *Hub) handleContentChange(c *Client, env protocol.Envelope) {
	var change domain.ContentChange
	if err := protocol.DecodePayload(env, &change); err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID()).Warn("Dropping malformed content-change")
		return
	}
	if change.ElementID == "" || !change.Type.Valid() || change.Position < 0 {
		h.sendEvent(c, protocol.EventError, protocol.Error{
			Code:    protocol.ErrCodeBadRequest,
			Message: "invalid content-change",
		})
		return
	}
	if err := h.reg.CheckEditable(c.roomID, c.user.ID); err != nil {
		h.sendEvent(c, protocol.EventError, protocol.Error{
			Code:    protocol.ErrCodeRoleDenied,
			Message: "content changes are not permitted for this role",
		})
		return
	}
	change.AuthorID = c.user.ID
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	h.broadcastEvent(c.roomID, protocol.EventContentChange, change, c)
}

func (h *Hub) handleLockAcquire(c *Client, env protocol.Envelope) {
	var req protocol.LockAcquire
	if err := protocol.DecodePayload(env, &req); err != nil || req.ResourceID == "" {
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: protocol.ErrCodeBadRequest, Message: "invalid lock-acquire"})
		return
	}

	lock, err := h.reg.AcquireLock(c.roomID, c.user.ID, req.ResourceID)
	if err != nil {
		var held *registry.LockHeldError
		if errors.As(err, &held) {
			h.sendEvent(c, protocol.EventLockDenied, protocol.LockDenied{
				ResourceID:   held.ResourceID,
				CurrentOwner: held.OwnerID,
				OwnerName:    held.OwnerName,
			})
			return
		}
		code := protocol.ErrCodeInternal
		if errors.Is(err, registry.ErrRoleDenied) {
			code = protocol.ErrCodeRoleDenied
		}
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: code, Message: err.Error()})
		return
	}

	// 应答请求方，并把锁状态广播给其他成员。
	h.sendEvent(c, protocol.EventLockGranted, protocol.LockGranted{Lock: lock})
	h.broadcastEvent(c.roomID, protocol.EventLockGranted, protocol.LockGranted{Lock: lock}, c)
}

func (h *Hub) handleLockRelease(c *Client, env protocol.Envelope) {
	var req protocol.LockRelease
	if err := protocol.DecodePayload(env, &req); err != nil || req.ResourceID == "" {
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: protocol.ErrCodeBadRequest, Message: "invalid lock-release"})
		return
	}
	if err := h.reg.ReleaseLock(c.roomID, c.user.ID, req.ResourceID); err != nil {
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: protocol.ErrCodeLockDenied, Message: err.Error()})
		return
	}
	h.broadcastEvent(c.roomID, protocol.EventLockReleased, protocol.LockReleased{ResourceID: req.ResourceID}, nil)
}

func (h *Hub) handleRoleChange(c *Client, env protocol.Envelope) {
	var req protocol.RoleChange
	if err := protocol.DecodePayload(env, &req); err != nil || req.TargetUserID == "" {
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: protocol.ErrCodeBadRequest, Message: "invalid role-change"})
		return
	}
	if err := h.reg.ChangeRole(c.roomID, c.user.ID, req.TargetUserID, req.Role); err != nil {
		code := protocol.ErrCodeInternal
		switch {
		case errors.Is(err, registry.ErrRoleDenied):
			code = protocol.ErrCodeRoleDenied
		case errors.Is(err, registry.ErrMemberNotFound):
			code = protocol.ErrCodeNotFound
		case errors.Is(err, registry.ErrInvalidRole):
			code = protocol.ErrCodeBadRequest
		}
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: code, Message: err.Error()})
		return
	}
	h.broadcastEvent(c.roomID, protocol.EventRoleChanged, protocol.RoleChanged{
		TargetUserID: req.TargetUserID,
		Role:         req.Role,
		ChangedBy:    c.user.ID,
	}, nil)
}

// handleComment 处理四种评论命令，成功后把权威版本广播给全房间
// （包括请求方——服务端分配的 ID 与时间戳以广播为准）。
func (h *Hub) handleComment(c *Client, env protocol.Envelope) {
	var (
		result domain.Comment
		out    protocol.EventType
		err    error
	)

	switch env.Type {
	case protocol.EventCommentAdd:
		var req protocol.CommentAdd
		if err = protocol.DecodePayload(env, &req); err == nil {
			result, err = h.reg.AddComment(c.roomID, c.user.ID, req.Comment)
			out = protocol.EventCommentAdded
		}
	case protocol.EventCommentUpdate:
		var req protocol.CommentUpdate
		if err = protocol.DecodePayload(env, &req); err == nil {
			result, err = h.reg.UpdateComment(c.roomID, c.user.ID, req.ID, req.Content)
			out = protocol.EventCommentUpdated
		}
	case protocol.EventCommentDelete:
		var req protocol.CommentDelete
		if err = protocol.DecodePayload(env, &req); err == nil {
			err = h.reg.DeleteComment(c.roomID, c.user.ID, req.ID)
			result = domain.Comment{ID: req.ID}
			out = protocol.EventCommentDeleted
		}
	case protocol.EventCommentResolve:
		var req protocol.CommentResolve
		if err = protocol.DecodePayload(env, &req); err == nil {
			result, err = h.reg.ResolveComment(c.roomID, c.user.ID, req.ID)
			out = protocol.EventCommentResolved
		}
	}

	if err != nil {
		code := protocol.ErrCodeInternal
		switch {
		case errors.Is(err, protocol.ErrMalformedPayload):
			code = protocol.ErrCodeBadRequest
		case errors.Is(err, registry.ErrRoleDenied):
			code = protocol.ErrCodeRoleDenied
		case errors.Is(err, registry.ErrCommentNotFound):
			code = protocol.ErrCodeNotFound
		}
		h.sendEvent(c, protocol.EventError, protocol.Error{Code: code, Message: err.Error()})
		return
	}
	h.broadcastEvent(c.roomID, out, protocol.CommentEvent{Comment: result}, nil)
}

// unregisterClient 处理连接断开（显式或超时）。成员被标记离线，
// 记录与锁保留到宽限期，由 Sweep 清除。
func (h *Hub) unregisterClient(c *Client) {
	if c == nil || c.gone {
		return
	}
	c.gone = true

	if c.joined {
		h.roomsMu.Lock()
		if roomClients, ok := h.rooms[c.roomID]; ok {
			delete(roomClients, c)
			if len(roomClients) == 0 {
				delete(h.rooms, c.roomID)
			}
		}
		h.roomsMu.Unlock()

		if err := h.reg.Leave(c.roomID, c.user.ID, false); err != nil && !errors.Is(err, registry.ErrRoomNotFound) {
			h.log.WithError(err).WithField("user_id", c.user.ID).Warn("Failed to mark member offline")
		}
		h.broadcastEvent(c.roomID, protocol.EventPresenceLeft, protocol.PresenceLeft{UserID: c.user.ID}, nil)
	}

	// 关闭 send 通道令 WritePump 退出；缓冲中未写出的消息会先被送完。
	close(c.send)
	h.log.WithFields(logrus.Fields{"room_id": c.roomID, "user_id": c.UserID()}).Info("Client unregistered from Hub")
}

// disconnectClient 服务端主动断开：走与 unregister 相同的清理路径。
func (h *Hub) disconnectClient(c *Client) {
	h.unregisterClient(c)
}

// evictStaleConnection 断开同一用户在同一房间的旧连接，
// 保证一个 userId 至多对应一条活跃连接。
func (h *Hub) evictStaleConnection(roomID, userID string, incoming *Client) {
	h.roomsMu.RLock()
	var stale *Client
	for client := range h.rooms[roomID] {
		if client != incoming && client.user.ID == userID {
			stale = client
			break
		}
	}
	h.roomsMu.RUnlock()

	if stale != nil {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("Evicting stale connection for rejoining user")
		h.roomsMu.Lock()
		if roomClients, ok := h.rooms[roomID]; ok {
			delete(roomClients, stale)
		}
		h.roomsMu.Unlock()
		stale.gone = true
		close(stale.send)
	}
}

// sendEvent 序列化并非阻塞地发给单个客户端。
// 载荷均由服务端自己构造，序列化失败属于编程错误。
func (h *Hub) sendEvent(c *Client, t protocol.EventType, payload interface{}) {
	c.trySend(protocol.MustEncode(t, payload))
}

// broadcastEvent 将事件发给房间内全部客户端，exclude 非 nil 时排除之。
// 慢客户端的发送队列满时跳过该客户端，由其 WritePump 或清理任务兜底。
func (h *Hub) broadcastEvent(roomID string, t protocol.EventType, payload interface{}, exclude *Client) {
	data := protocol.MustEncode(t, payload)

	h.roomsMu.RLock()
	roomClients := h.rooms[roomID]
	clientsToSend := make([]*Client, 0, len(roomClients))
	for client := range roomClients {
		if client != exclude {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.roomsMu.RUnlock()

	for _, client := range clientsToSend {
		if !client.trySend(data) {
			h.log.WithFields(logrus.Fields{
				"room_id":          roomID,
				"receiver_user_id": client.UserID(),
				"event":            t,
			}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}
