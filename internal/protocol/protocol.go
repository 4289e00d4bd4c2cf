// Package protocol 定义了客户端与服务端共享的 WebSocket 消息协议。
// 协议本身不包含任何业务逻辑，只负责事件的类型定义与 (反)序列化。
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// EventType 标识一条协议消息的类型。
type EventType string

// 协议事件类型常量。
const (
	// --- 连接与房间生命周期 ---
	EventJoinRoom     EventType = "join-room"
	EventRoomJoined   EventType = "room-joined"
	EventJoinRejected EventType = "join-rejected"
	EventLeaveRoom    EventType = "leave-room"

	// --- Presence ---
	EventPresenceJoined EventType = "presence-joined"
	EventPresenceLeft   EventType = "presence-left"

	// --- 光标与内容 ---
	EventCursorUpdate  EventType = "cursor-update"
	EventContentChange EventType = "content-change"

	// --- 资源锁 ---
	EventLockAcquire  EventType = "lock-acquire"
	EventLockGranted  EventType = "lock-granted"
	EventLockDenied   EventType = "lock-denied"
	EventLockRelease  EventType = "lock-release"
	EventLockReleased EventType = "lock-released"

	// --- 角色 ---
	EventRoleChange  EventType = "role-change"
	EventRoleChanged EventType = "role-changed"

	// --- 评论 ---
	EventCommentAdd      EventType = "comment-add"
	EventCommentAdded    EventType = "comment-added"
	EventCommentUpdate   EventType = "comment-update"
	EventCommentUpdated  EventType = "comment-updated"
	EventCommentDelete   EventType = "comment-delete"
	EventCommentDeleted  EventType = "comment-deleted"
	EventCommentResolve  EventType = "comment-resolve"
	EventCommentResolved EventType = "comment-resolved"

	// --- 心跳与错误 ---
	EventPing  EventType = "ping"
	EventPong  EventType = "pong"
	EventError EventType = "error"
)

// 协议层错误。单条非法消息应被丢弃并记录，不应导致连接被关闭。
var (
	ErrMalformedEnvelope = errors.New("protocol: malformed message envelope")
	ErrMalformedPayload  = errors.New("protocol: malformed event payload")
	ErrUnknownEvent      = errors.New("protocol: unknown event type")
)

// Envelope 是所有消息的外层结构。Payload 保持原始字节，
// 由接收方根据 Type 再做一次类型化解码。
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode 将事件序列化为可直接写入 WebSocket 的字节。
func Encode(t EventType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal %s payload: %w", t, err)
		}
		raw = data
	}
	data, err := json.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s envelope: %w", t, err)
	}
	return data, nil
}

// MustEncode 与 Encode 相同，但在序列化失败时 panic。
// 仅用于由服务端自己构造、不可能失败的消息。
func MustEncode(t EventType, payload interface{}) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode 解析消息外层。非法 JSON 或空 type 返回 ErrMalformedEnvelope。
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// DecodePayload 将 Envelope 的 Payload 解码到目标结构体。
func DecodePayload(env Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return nil
}

// --- Payload 定义 ---

// JoinRoom 是客户端加入房间的握手请求。
type JoinRoom struct {
	RoomID      string      `json:"room_id"`
	User        domain.User `json:"user"`
	Password    string      `json:"password,omitempty"`
	InviteToken string      `json:"invite_token,omitempty"`
}

// RoomJoined 是服务端接受加入后的应答，携带完整状态快照。
// 快照是唯一的状态同步机制，不回放历史事件。
type RoomJoined struct {
	Role     domain.Role     `json:"role"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// JoinRejected 是握手被拒绝的应答。Code 见下方 Reject* 常量。
type JoinRejected struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// 握手拒绝码。拒绝是终态，客户端不应重试。
const (
	RejectBadPassword   = "bad-password"
	RejectInviteNeeded  = "invite-required"
	RejectInviteInvalid = "invite-invalid"
	RejectRoleDenied    = "role-denied"
)

// PresenceJoined 广播给既有成员：有新成员加入。
type PresenceJoined struct {
	Member domain.Member `json:"member"`
}

// PresenceLeft 广播给既有成员：某成员离线。
type PresenceLeft struct {
	UserID string `json:"user_id"`
}

// CursorUpdate 携带某用户的最新光标位置（0..1 归一化坐标）。
// 光标是软状态，接收方超时后自行淘汰，服务端不存储。
type CursorUpdate struct {
	UserID    string    `json:"user_id,omitempty"`
	ElementID string    `json:"element_id,omitempty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// LockAcquire 请求获取资源锁（请求/应答语义）。
type LockAcquire struct {
	ResourceID string `json:"resource_id"`
}

// LockGranted 应答并广播：锁已被某成员持有。
type LockGranted struct {
	Lock domain.Lock `json:"lock"`
}

// LockDenied 仅发给请求方：锁已被他人持有。
type LockDenied struct {
	ResourceID   string `json:"resource_id"`
	CurrentOwner string `json:"current_owner"`
	OwnerName    string `json:"owner_name,omitempty"`
}

// LockRelease 请求释放资源锁。
type LockRelease struct {
	ResourceID string `json:"resource_id"`
}

// LockReleased 广播：某资源锁已释放。
type LockReleased struct {
	ResourceID string `json:"resource_id"`
}

// RoleChange 请求修改某成员角色，仅房主可用，服务端校验。
type RoleChange struct {
	TargetUserID string      `json:"target_user_id"`
	Role         domain.Role `json:"role"`
}

// RoleChanged 广播：角色变更已生效。
type RoleChanged struct {
	TargetUserID string      `json:"target_user_id"`
	Role         domain.Role `json:"role"`
	ChangedBy    string      `json:"changed_by"`
}

// CommentAdd 请求新增评论。服务端补齐 ID/时间戳后以 comment-added 广播。
type CommentAdd struct {
	Comment domain.Comment `json:"comment"`
}

// CommentUpdate 请求修改评论内容。
type CommentUpdate struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// CommentDelete 请求删除评论。
type CommentDelete struct {
	ID string `json:"id"`
}

// CommentResolve 请求将评论标记为已解决。
type CommentResolve struct {
	ID string `json:"id"`
}

// CommentEvent 是评论相关广播的统一载荷。
type CommentEvent struct {
	Comment domain.Comment `json:"comment"`
}

// Error 是发给单个请求方的错误应答。
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 请求级错误码。
const (
	ErrCodeRoleDenied   = "role-denied"
	ErrCodeLockDenied   = "lock-denied"
	ErrCodeBadRequest   = "bad-request"
	ErrCodeNotFound     = "not-found"
	ErrCodeInternal     = "internal"
	ErrCodeNotJoined    = "not-joined"
	ErrCodeAlreadyInUse = "already-in-use"
)
