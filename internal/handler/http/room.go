package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/service"
)

// RoomHandler 封装房间管理 API：建房、元信息查询、邀请签发。
// 该 API 走普通请求/应答，独立于持久 WebSocket 连接，供项目
// 分享对话框等外部 UI 消费。
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例。
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 是创建房间的请求体。room_id 为空时由服务端生成。
type CreateRoomRequest struct {
	RoomID         string `json:"room_id"`
	Password       string `json:"password"`
	InviteRequired bool   `json:"invite_required"`
}

// CreateRoomResponse 是创建房间成功的响应。
type CreateRoomResponse struct {
	RoomID           string `json:"room_id"`
	PasswordRequired bool   `json:"password_required"`
	InviteRequired   bool   `json:"invite_required"`
}

// CreateRoom 处理 POST /api/rooms。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, err := h.roomService.CreateRoom(req.RoomID, req.Password, req.InviteRequired)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("room_id", room.ID).Info("Handler.CreateRoom: room created")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		RoomID:           room.ID,
		PasswordRequired: room.HasPassword(),
		InviteRequired:   room.InviteRequired,
	})
}

// GetRoom 处理 GET /api/rooms/:roomId，返回公开元信息。
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	meta, err := h.roomService.Metadata(roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, meta)
}

// UpdateAccessRequest 是修改房间准入设置的请求体。user_id 必须是房主；
// password 传空串表示清除密码，字段缺省表示保持不变。
type UpdateAccessRequest struct {
	UserID         string  `json:"user_id" binding:"required"`
	Password       *string `json:"password"`
	InviteRequired *bool   `json:"invite_required"`
}

// UpdateAccess 处理 PUT /api/rooms/:roomId/access，返回更新后的元信息。
func (h *RoomHandler) UpdateAccess(c *gin.Context) {
	roomID := c.Param("roomId")

	var req UpdateAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.UpdateAccess: invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: user_id is required")
		return
	}

	if err := h.roomService.UpdateAccess(roomID, req.UserID, req.Password, req.InviteRequired); err != nil {
		HandleServiceError(c, err)
		return
	}

	meta, err := h.roomService.Metadata(roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": req.UserID}).Info("Handler.UpdateAccess: room access updated")
	SuccessResponse(c, http.StatusOK, meta)
}

// IssueInviteRequest 是签发邀请令牌的请求体。
// user_id 必须是该房间的房主。
type IssueInviteRequest struct {
	UserID   string      `json:"user_id" binding:"required"`
	Role     domain.Role `json:"role" binding:"required"`
	TTLHours int         `json:"ttl_hours"`
}

// IssueInviteResponse 是签发成功的响应。
type IssueInviteResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueInvite 处理 POST /api/rooms/:roomId/invites。
func (h *RoomHandler) IssueInvite(c *gin.Context) {
	roomID := c.Param("roomId")

	var req IssueInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.IssueInvite: invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: user_id and role are required")
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	token, expiresAt, err := h.roomService.IssueInvite(roomID, req.UserID, req.Role, ttl)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": req.UserID, "role": req.Role}).Info("Handler.IssueInvite: invite issued")
	SuccessResponse(c, http.StatusOK, IssueInviteResponse{Token: token, ExpiresAt: expiresAt})
}
