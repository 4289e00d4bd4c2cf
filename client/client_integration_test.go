package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuta1414win/PLAINER-sub001/client"
	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	wshandler "github.com/yuta1414win/PLAINER-sub001/internal/handler/websocket"
	"github.com/yuta1414win/PLAINER-sub001/internal/hub"
	"github.com/yuta1414win/PLAINER-sub001/internal/registry"
)

func startServer(t *testing.T) (string, *registry.Registry) {
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

func connect(t *testing.T, endpoint, roomID, userID string) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		Endpoint: endpoint,
		RoomID:   roomID,
		User:     domain.User{ID: userID, Name: "user-" + userID},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestClient_ConnectAndPresence(t *testing.T) {
	endpoint, _ := startServer(t)

	alice := connect(t, endpoint, "room-1", "alice")
	assert.True(t, alice.IsConnected())
	assert.Equal(t, domain.RoleOwner, alice.Role())
	require.Len(t, alice.Users(), 1)

	bob := connect(t, endpoint, "room-1", "bob")
	assert.Equal(t, domain.RoleEditor, bob.Role())
	assert.Len(t, bob.Users(), 2, "后加入者的快照应包含既有成员")

	// 既有成员通过 presence-joined 感知新成员
	assert.Eventually(t, func() bool {
		return len(alice.Users()) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClient_JoinRejectedIsTerminal(t *testing.T) {
	endpoint, reg := startServer(t)

	_, err := reg.CreateRoom("secret", "pw", false)
	require.NoError(t, err)

	c, err := client.New(client.Config{
		Endpoint: endpoint,
		RoomID:   "secret",
		User:     domain.User{ID: "alice"},
		Password: "wrong",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Connect(ctx)
	require.Error(t, err)

	var rejected *client.JoinRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "bad-password", rejected.Code)
	assert.Equal(t, client.StatusDisconnected, c.Status(), "拒绝是终态，不应重连")
}

func TestClient_TextInputPropagation(t *testing.T) {
	endpoint, _ := startServer(t)

	alice := connect(t, endpoint, "room-1", "alice")
	bob := connect(t, endpoint, "room-1", "bob")

	pushAlice, cancelAlice := alice.TrackTextInput("step-title-1", "hello")
	defer cancelAlice()
	_, cancelBob := bob.TrackTextInput("step-title-1", "hello")
	defer cancelBob()

	var notified atomic.Int32
	bob.OnContentChange(func(elementID, value string) {
		if elementID == "step-title-1" && value == "helloX" {
			notified.Add(1)
		}
	})

	pushAlice("helloX")

	assert.Eventually(t, func() bool {
		v, ok := bob.Value("step-title-1")
		return ok && v == "helloX"
	}, 2*time.Second, 20*time.Millisecond, "对端应收到并应用单个定位补丁")
	assert.Eventually(t, func() bool { return notified.Load() > 0 }, 2*time.Second, 20*time.Millisecond)

	v, _ := alice.Value("step-title-1")
	assert.Equal(t, "helloX", v)
}

func TestClient_LockRequestResponse(t *testing.T) {
	endpoint, _ := startServer(t)

	alice := connect(t, endpoint, "room-1", "alice")
	bob := connect(t, endpoint, "room-1", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lock, err := alice.AcquireLock(ctx, "step-title-2")
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.OwnerID)

	// 他人竞争：拿到持有者信息
	_, err = bob.AcquireLock(ctx, "step-title-2")
	require.Error(t, err)
	var denied *client.LockDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "alice", denied.OwnerID)
	assert.ErrorIs(t, err, client.ErrLockDenied)

	// 对端的锁表跟随广播
	assert.Eventually(t, func() bool {
		lk, ok := bob.Locks()["step-title-2"]
		return ok && lk.OwnerID == "alice"
	}, 2*time.Second, 20*time.Millisecond)

	// 释放后对端锁表清空，资源可再获取
	require.NoError(t, alice.ReleaseLock("step-title-2"))
	assert.Eventually(t, func() bool {
		_, ok := bob.Locks()["step-title-2"]
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	lock, err = bob.AcquireLock(ctx, "step-title-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", lock.OwnerID)
}

func TestClient_CursorTracking(t *testing.T) {
	endpoint, _ := startServer(t)

	alice := connect(t, endpoint, "room-1", "alice")
	bob := connect(t, endpoint, "room-1", "bob")

	push, cancel := alice.TrackCursor()
	defer cancel()

	// 防抖窗口内的连发只保留最新位置
	push(0.1, 0.1, "step-1")
	push(0.2, 0.2, "step-1")
	push(0.9, 0.4, "step-2")

	assert.Eventually(t, func() bool {
		cur, ok := bob.Cursors()["alice"]
		return ok && cur.X == 0.9 && cur.ElementID == "step-2"
	}, 2*time.Second, 20*time.Millisecond)

	// 自己的光标不出现在本地列表里
	_, ok := alice.Cursors()["alice"]
	assert.False(t, ok)
}

func TestClient_ReconnectExhaustionEndsDisconnected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := registry.New(registry.Config{})
	h := hub.NewHub(reg)
	go h.Run()
	t.Cleanup(h.Stop)

	r := gin.New()
	r.GET("/ws", wshandler.NewWebSocketHandler(h).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{
		Endpoint:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		RoomID:            "room-1",
		User:              domain.User{ID: "alice"},
		ReconnectBase:     10 * time.Millisecond,
		ReconnectMax:      20 * time.Millisecond,
		ReconnectAttempts: 3,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect() })

	var (
		mu    sync.Mutex
		trace []client.Status
	)
	c.OnStatusChange(func(s client.Status) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	})

	// 切断既有会话并关停监听：之后的每次重拨都必然失败
	srv.CloseClientConnections()
	srv.Close()

	// 重试次数耗尽后落回终态断开，而不是无限重连
	assert.Eventually(t, func() bool {
		return c.Status() == client.StatusDisconnected
	}, 3*time.Second, 10*time.Millisecond, "有限次重试耗尽后应进入断开终态")

	assert.Error(t, c.LastError(), "终态断开应携带最后一次失败原因")
	assert.False(t, c.IsReconnecting())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, trace, client.StatusReconnecting, "会话中断后应先尝试重连")
	assert.Contains(t, trace, client.StatusDisconnected)
}

func TestClient_DisconnectReleasesPresence(t *testing.T) {
	endpoint, reg := startServer(t)

	alice := connect(t, endpoint, "room-1", "alice")
	bob := connect(t, endpoint, "room-1", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := bob.AcquireLock(ctx, "step-1")
	require.NoError(t, err)

	// 显式断开：立即释放锁并广播离场
	require.NoError(t, bob.Disconnect())

	assert.Eventually(t, func() bool {
		for _, m := range alice.Users() {
			if m.ID == "bob" {
				return !m.Online
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := alice.Locks()["step-1"]
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	// 服务端侧锁也已释放
	_, err = reg.AcquireLock("room-1", "alice", "step-1")
	assert.NoError(t, err)
}
