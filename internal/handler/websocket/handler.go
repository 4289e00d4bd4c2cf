package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/hub"
)

// WebSocketHandler 负责连接升级与客户端注册。
// 身份与房间凭证不在 HTTP 阶段校验：升级后客户端的首条
// join-room 事件由 Hub 交给 Registry 做完整握手。
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
func NewWebSocketHandler(h *hub.Hub) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// TODO: 生产环境应配置具体的允许来源。
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h}
}

// HandleConnection 处理 GET /ws 的升级请求。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时 gorilla 已写出 HTTP 错误响应。
		logrus.WithError(err).Error("WS Handler: failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logrus.Error("WS Handler: hub message channel full, failed to register client")
		conn.Close()
		return
	}
	client.Run()
	logrus.WithField("remote_addr", c.ClientIP()).Debug("WS Handler: connection upgraded, pumps started")
}
