package hub_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	wshandler "github.com/yuta1414win/PLAINER-sub001/internal/handler/websocket"
	"github.com/yuta1414win/PLAINER-sub001/internal/hub"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
	"github.com/yuta1414win/PLAINER-sub001/internal/registry"
)

// setupServer 启动一个真实的 WebSocket 服务端供端到端测试使用。
func setupServer(t *testing.T) (string, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.Config{})
	h := hub.NewHub(reg)
	go h.Run()
	t.Cleanup(h.Stop)

	r := gin.New()
	r.GET("/ws", wshandler.NewWebSocketHandler(h).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", reg
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, et protocol.EventType, payload interface{}) {
	t.Helper()
	data, err := protocol.Encode(et, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil 读取消息直到出现指定类型的事件，跳过中途的无关广播。
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.EventType) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "等待 %s 事件超时", want)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type == want {
			return env
		}
	}
}

// join 完成入房握手并返回 room-joined 载荷。
func join(t *testing.T, conn *websocket.Conn, roomID, userID string) protocol.RoomJoined {
	t.Helper()
	sendEvent(t, conn, protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID: roomID,
		User:   domain.User{ID: userID, Name: "user-" + userID},
	})
	env := readUntil(t, conn, protocol.EventRoomJoined)
	var joined protocol.RoomJoined
	require.NoError(t, protocol.DecodePayload(env, &joined))
	return joined
}

func TestHub_JoinAndPresence(t *testing.T) {
	url, _ := setupServer(t)

	alice := dialWS(t, url)
	joined := join(t, alice, "room-1", "alice")
	assert.Equal(t, domain.RoleOwner, joined.Role, "首位加入者应成为房主")
	assert.Len(t, joined.Snapshot.Members, 1)

	bob := dialWS(t, url)
	joinedBob := join(t, bob, "room-1", "bob")
	assert.Equal(t, domain.RoleEditor, joinedBob.Role)
	assert.Len(t, joinedBob.Snapshot.Members, 2, "后加入者的快照应包含既有成员")

	// 既有成员收到 presence-joined 广播
	env := readUntil(t, alice, protocol.EventPresenceJoined)
	var presence protocol.PresenceJoined
	require.NoError(t, protocol.DecodePayload(env, &presence))
	assert.Equal(t, "bob", presence.Member.ID)
	assert.True(t, presence.Member.Online)
}

func TestHub_RejectsUnjoinedCommands(t *testing.T) {
	url, _ := setupServer(t)

	conn := dialWS(t, url)
	sendEvent(t, conn, protocol.EventCursorUpdate, protocol.CursorUpdate{X: 0.5, Y: 0.5})

	env := readUntil(t, conn, protocol.EventError)
	var e protocol.Error
	require.NoError(t, protocol.DecodePayload(env, &e))
	assert.Equal(t, protocol.ErrCodeNotJoined, e.Code)
}

func TestHub_JoinRejectedBadPassword(t *testing.T) {
	url, reg := setupServer(t)

	_, err := reg.CreateRoom("secret", "pw", false)
	require.NoError(t, err)

	conn := dialWS(t, url)
	sendEvent(t, conn, protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID:   "secret",
		User:     domain.User{ID: "alice"},
		Password: "wrong",
	})

	env := readUntil(t, conn, protocol.EventJoinRejected)
	var rejected protocol.JoinRejected
	require.NoError(t, protocol.DecodePayload(env, &rejected))
	assert.Equal(t, protocol.RejectBadPassword, rejected.Code)

	// 拒绝是终态：服务端随后关闭连接
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_CursorBroadcastExcludesSender(t *testing.T) {
	url, _ := setupServer(t)

	alice := dialWS(t, url)
	join(t, alice, "room-1", "alice")
	bob := dialWS(t, url)
	join(t, bob, "room-1", "bob")
	readUntil(t, alice, protocol.EventPresenceJoined)

	// 客户端声明的 user_id 不可信，服务端盖章
	sendEvent(t, alice, protocol.EventCursorUpdate, protocol.CursorUpdate{
		UserID: "spoofed", X: 0.25, Y: 0.75, ElementID: "step-2",
	})

	env := readUntil(t, bob, protocol.EventCursorUpdate)
	var cur protocol.CursorUpdate
	require.NoError(t, protocol.DecodePayload(env, &cur))
	assert.Equal(t, "alice", cur.UserID)
	assert.Equal(t, 0.25, cur.X)
	assert.False(t, cur.UpdatedAt.IsZero())

	// 发送方自己不应收到回显
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err, "发送方不应收到自己的光标广播")
}

func TestHub_ContentChangeOrdering(t *testing.T) {
	url, _ := setupServer(t)

	alice := dialWS(t, url)
	join(t, alice, "room-1", "alice")
	bob := dialWS(t, url)
	join(t, bob, "room-1", "bob")

	// 同一连接上的两次变更必须按发送顺序到达
	sendEvent(t, alice, protocol.EventContentChange, domain.ContentChange{
		ElementID: "step-title-1", Type: domain.ChangeInsert, Position: 0, Content: "first",
	})
	sendEvent(t, alice, protocol.EventContentChange, domain.ContentChange{
		ElementID: "step-title-1", Type: domain.ChangeInsert, Position: 5, Content: "second",
	})

	env := readUntil(t, bob, protocol.EventContentChange)
	var first domain.ContentChange
	require.NoError(t, protocol.DecodePayload(env, &first))
	assert.Equal(t, "first", first.Content)
	assert.Equal(t, "alice", first.AuthorID, "作者身份由服务端盖章")

	env = readUntil(t, bob, protocol.EventContentChange)
	var second domain.ContentChange
	require.NoError(t, protocol.DecodePayload(env, &second))
	assert.Equal(t, "second", second.Content)
}

func TestHub_ViewerContentChangeDenied(t *testing.T) {
	url, reg := setupServer(t)

	alice := dialWS(t, url)
	join(t, alice, "room-1", "alice")
	bob := dialWS(t, url)
	join(t, bob, "room-1", "bob")
	require.NoError(t, reg.ChangeRole("room-1", "alice", "bob", domain.RoleViewer))

	sendEvent(t, bob, protocol.EventContentChange, domain.ContentChange{
		ElementID: "step-1", Type: domain.ChangeInsert, Position: 0, Content: "x",
	})

	env := readUntil(t, bob, protocol.EventError)
	var e protocol.Error
	require.NoError(t, protocol.DecodePayload(env, &e))
	assert.Equal(t, protocol.ErrCodeRoleDenied, e.Code)
}

func TestHub_LockContention(t *testing.T) {
	url, _ := setupServer(t)

	alice := dialWS(t, url)
	join(t, alice, "room-1", "alice")
	bob := dialWS(t, url)
	join(t, bob, "room-1", "bob")

	// alice 先拿到锁
	sendEvent(t, alice, protocol.EventLockAcquire, protocol.LockAcquire{ResourceID: "step-title-3"})
	env := readUntil(t, alice, protocol.EventLockGranted)
	var granted protocol.LockGranted
	require.NoError(t, protocol.DecodePayload(env, &granted))
	assert.Equal(t, "alice", granted.Lock.OwnerID)
	assert.True(t, granted.Lock.ExpiresAt.After(granted.Lock.AcquiredAt))

	// bob 竞争失败，获知当前持有者
	sendEvent(t, bob, protocol.EventLockAcquire, protocol.LockAcquire{ResourceID: "step-title-3"})
	env = readUntil(t, bob, protocol.EventLockDenied)
	var denied protocol.LockDenied
	require.NoError(t, protocol.DecodePayload(env, &denied))
	assert.Equal(t, "alice", denied.CurrentOwner)

	// alice 释放后全房间收到 lock-released
	sendEvent(t, alice, protocol.EventLockRelease, protocol.LockRelease{ResourceID: "step-title-3"})
	env = readUntil(t, bob, protocol.EventLockReleased)
	var released protocol.LockReleased
	require.NoError(t, protocol.DecodePayload(env, &released))
	assert.Equal(t, "step-title-3", released.ResourceID)

	// 现在 bob 可以拿到
	sendEvent(t, bob, protocol.EventLockAcquire, protocol.LockAcquire{ResourceID: "step-title-3"})
	env = readUntil(t, bob, protocol.EventLockGranted)
	require.NoError(t, protocol.DecodePayload(env, &granted))
	assert.Equal(t, "bob", granted.Lock.OwnerID)
}

func TestHub_CommentLifecycleBroadcast(t *testing.T) {
	url, _ := setupServer(t)

	alice := dialWS(t, url)
	join(t, alice, "room-1", "alice")
	bob := dialWS(t, url)
	join(t, bob, "room-1", "bob")

	sendEvent(t, alice, protocol.EventCommentAdd, protocol.CommentAdd{
		Comment: domain.Comment{StepID: "step-2", Content: "该步骤需要截图"},
	})

	// 服务端分配的 ID 以广播为准，请求方也收到
	env := readUntil(t, alice, protocol.EventCommentAdded)
	var added protocol.CommentEvent
	require.NoError(t, protocol.DecodePayload(env, &added))
	assert.NotEmpty(t, added.Comment.ID)
	assert.Equal(t, "alice", added.Comment.AuthorID)

	env = readUntil(t, bob, protocol.EventCommentAdded)
	var addedAtBob protocol.CommentEvent
	require.NoError(t, protocol.DecodePayload(env, &addedAtBob))
	assert.Equal(t, added.Comment.ID, addedAtBob.Comment.ID)

	// bob 不是作者也不是房主：删除被拒
	sendEvent(t, bob, protocol.EventCommentDelete, protocol.CommentDelete{ID: added.Comment.ID})
	env = readUntil(t, bob, protocol.EventError)
	var e protocol.Error
	require.NoError(t, protocol.DecodePayload(env, &e))
	assert.Equal(t, protocol.ErrCodeRoleDenied, e.Code)

	// resolve 任何编辑者可做
	sendEvent(t, bob, protocol.EventCommentResolve, protocol.CommentResolve{ID: added.Comment.ID})
	env = readUntil(t, bob, protocol.EventCommentResolved)
	var resolved protocol.CommentEvent
	require.NoError(t, protocol.DecodePayload(env, &resolved))
	assert.True(t, resolved.Comment.Resolved)
}

func TestHub_PingPong(t *testing.T) {
	url, _ := setupServer(t)

	conn := dialWS(t, url)
	join(t, conn, "room-1", "alice")

	sendEvent(t, conn, protocol.EventPing, nil)
	readUntil(t, conn, protocol.EventPong)
}

func TestHub_RejoinEvictsStaleConnection(t *testing.T) {
	url, _ := setupServer(t)

	first := dialWS(t, url)
	join(t, first, "room-1", "alice")

	// 同一 userId 的新连接把旧连接挤下线
	second := dialWS(t, url)
	joined := join(t, second, "room-1", "alice")
	assert.Equal(t, domain.RoleOwner, joined.Role, "重连应保留原角色")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}
