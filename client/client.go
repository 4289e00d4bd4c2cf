package client

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
)

const (
	clientWriteWait = 10 * time.Second

	// RecentLocal 中本地补丁的保留窗口，超出后不再参与位置重定位。
	recentLocalWindow = 5 * time.Second
)

var errHeartbeatTimeout = errors.New("client: heartbeat timed out")

type lockResult struct {
	lock domain.Lock
	err  error
}

// Client 是面向应用层的协作客户端门面。所有导出方法并发安全。
// 连接断开后自动按指数退避重连，并在重连成功时用服务端快照
// 整体替换本地状态。
type Client struct {
	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	status   Status
	closed   bool
	lastErr  error
	ws       *websocket.Conn
	gen      int // 连接代数，旧连接上的错误与事件被忽略
	joinCh   chan error
	role     domain.Role
	lastPong time.Time

	members  map[string]domain.Member
	cursors  map[string]domain.Cursor
	locks    map[string]domain.Lock
	comments map[string]domain.Comment
	elements map[string]*ElementState

	lockWaiters map[string]chan lockResult

	onStatus        func(Status)
	onContentChange func(elementID, value string)
	onError         func(*ServerError)

	writeMu sync.Mutex
	stop    chan struct{}
}

// New 创建客户端，不发起连接。配置非法时返回错误。
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	return &Client{
		cfg: cfg,
		log: cfg.Logger.WithFields(logrus.Fields{
			"room_id": cfg.RoomID,
			"user_id": cfg.User.ID,
		}),
		status:      StatusDisconnected,
		members:     make(map[string]domain.Member),
		cursors:     make(map[string]domain.Cursor),
		locks:       make(map[string]domain.Lock),
		comments:    make(map[string]domain.Comment),
		elements:    make(map[string]*ElementState),
		lockWaiters: make(map[string]chan lockResult),
		stop:        make(chan struct{}),
	}, nil
}

// Connect 建立连接并完成入房握手，收到 room-joined 才算成功。
// 握手被拒绝（密码错误、邀请无效等）返回 *JoinRejectedError，
// 属于终态，客户端不会为此重试。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.setStatusLocked(StatusDisconnected)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()
	return nil
}

// Disconnect 显式离开房间并关闭连接，立即让出持有的锁。
// 幂等，重复调用直接返回。
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	connected := c.status == StatusConnected
	c.setStatusLocked(StatusDisconnected)
	close(c.stop)
	c.mu.Unlock()

	if ws != nil {
		if connected {
			data, err := protocol.Encode(protocol.EventLeaveRoom, nil)
			if err == nil {
				c.writeMu.Lock()
				ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
				_ = ws.WriteMessage(websocket.TextMessage, data)
				c.writeMu.Unlock()
			}
		}
		_ = ws.Close()
	}
	return nil
}

// dial 建立一条新连接并走完入房握手。调用方负责状态迁移。
func (c *Client) dial(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return err
	}

	joinCh := make(chan error, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.ws = ws
	c.joinCh = joinCh
	c.lastPong = time.Now()
	c.mu.Unlock()

	go c.readLoop(ws, gen)
	go c.heartbeat(ws, gen)

	join := protocol.JoinRoom{
		RoomID:      c.cfg.RoomID,
		User:        c.cfg.User,
		Password:    c.cfg.Password,
		InviteToken: c.cfg.InviteToken,
	}
	if err := c.write(ws, protocol.EventJoinRoom, join); err != nil {
		_ = ws.Close()
		return err
	}

	select {
	case err := <-joinCh:
		if err != nil {
			_ = ws.Close()
		}
		return err
	case <-ctx.Done():
		_ = ws.Close()
		return ctx.Err()
	case <-c.stop:
		_ = ws.Close()
		return ErrClosed
	}
}

func (c *Client) readLoop(ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.connLost(gen, err)
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("Dropping malformed server message")
			continue
		}
		c.handleEvent(gen, env)
	}
}

// heartbeat 定期发送协议层 ping，连续错过两个周期的 pong 即判定连接死亡。
func (c *Client) heartbeat(ws *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.gen || c.closed
			dead := time.Since(c.lastPong) > c.cfg.HeartbeatInterval*heartbeatTimeoutFactor
			c.mu.Unlock()
			if stale {
				return
			}
			if dead {
				_ = ws.Close()
				c.connLost(gen, errHeartbeatTimeout)
				return
			}
			if err := c.write(ws, protocol.EventPing, nil); err != nil {
				// 写失败同样意味着连接死亡，不能无声退出监测。
				_ = ws.Close()
				c.connLost(gen, err)
				return
			}
		}
	}
}

// connLost 处理连接级故障。握手期间交给 dial 的等待方；
// 已连接则进入重连流程。
func (c *Client) connLost(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.joinCh != nil {
		select {
		case c.joinCh <- err:
		default:
		}
		c.joinCh = nil
		c.mu.Unlock()
		return
	}
	if c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.setStatusLocked(StatusReconnecting)
	c.mu.Unlock()

	c.log.WithError(err).Warn("Connection lost, reconnecting")
	go c.reconnectLoop()
}

// reconnectLoop 按指数退避带抖动重试，超过次数上限后放弃并落回断开态。
func (c *Client) reconnectLoop() {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		delay := reconnectDelay(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)
		select {
		case <-c.stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.setStatusLocked(StatusConnected)
			c.mu.Unlock()
			c.log.WithField("attempt", attempt+1).Info("Reconnected")
			return
		}
		lastErr = err

		var rejected *JoinRejectedError
		if errors.As(err, &rejected) || errors.Is(err, ErrClosed) {
			c.terminate(err)
			return
		}
		c.log.WithError(err).WithField("attempt", attempt+1).Warn("Reconnect attempt failed")
	}
	c.log.WithError(lastErr).Error("Reconnect attempts exhausted, giving up")
	c.terminate(lastErr)
}

func (c *Client) terminate(err error) {
	c.mu.Lock()
	if c.closed || c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()
}

func (c *Client) setStatusLocked(next Status) {
	if c.status == next {
		return
	}
	if !c.status.canTransition(next) {
		c.log.WithFields(logrus.Fields{
			"from": c.status.String(),
			"to":   next.String(),
		}).Error("Illegal status transition")
		return
	}
	c.status = next
	if cb := c.onStatus; cb != nil {
		go cb(next)
	}
}

// write 直接写当前连接，外部请求走 send。
func (c *Client) write(ws *websocket.Conn, t protocol.EventType, payload interface{}) error {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// send 在 connected 状态下发送一条事件。
func (c *Client) send(t protocol.EventType, payload interface{}) error {
	c.mu.Lock()
	ws := c.ws
	ok := c.status == StatusConnected && ws != nil
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.write(ws, t, payload)
}

// reconnectDelay 计算第 attempt 次重试前的等待：base*2^attempt 截断到
// max，再叠加 ±50% 抖动，避免群体同时重连。
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)+1))
}
