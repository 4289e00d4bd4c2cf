package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// Client 代表一条已升级的 WebSocket 连接。
// roomID/user/joined/gone 只在 Hub 的单线程事件循环中读写。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	roomID string
	user   domain.User
	joined bool
	gone   bool
}

// NewClient 创建 Client 实例。
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// UserID 返回已加入客户端的用户 ID，未加入时为空串。
func (c *Client) UserID() string { return c.user.ID }

// RoomID 返回已加入客户端所在的房间 ID。
func (c *Client) RoomID() string { return c.roomID }

// trySend 非阻塞地将消息放入发送队列。
// 仅允许从 Hub 事件循环调用；连接已注销时直接丢弃。
func (c *Client) trySend(message []byte) bool {
	if c.gone {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// ReadPump 将 WebSocket 帧泵入 Hub 的处理通道。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			logrus.WithField("user_id", c.user.ID).Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"user_id": c.user.ID, "room_id": c.roomID})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// 协议层收到帧即视为活跃，刷新读超时。
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		eventMsg := HubMessage{Type: "event", Client: c, RawData: message}
		select {
		case c.hub.messageChan <- eventMsg:
		default:
			logrus.WithFields(logrus.Fields{"user_id": c.user.ID, "room_id": c.roomID}).Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 将 send 通道中的消息写入连接，并定期发送传输层 ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 已注销此客户端。
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{"user_id": c.user.ID, "room_id": c.roomID}).WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
