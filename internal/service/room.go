package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/registry"
)

// RoomService 承载房间管理 API 背后的业务逻辑：建房、元信息查询、
// 邀请签发。实时侧（join/锁/评论）不经过它，直接走 Hub → Registry。
type RoomService struct {
	reg     *registry.Registry
	invites *InviteService
	log     *logrus.Entry
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(reg *registry.Registry, invites *InviteService) *RoomService {
	if reg == nil {
		panic("Registry cannot be nil for RoomService")
	}
	if invites == nil {
		panic("InviteService cannot be nil for RoomService")
	}
	return &RoomService{
		reg:     reg,
		invites: invites,
		log:     logrus.WithField("component", "room_service"),
	}
}

// CreateRoom 预创建房间（可选密码与"仅邀请可入"标记）。
// 首位通过 WebSocket 加入的用户成为房主。
func (s *RoomService) CreateRoom(roomID, password string, inviteRequired bool) (domain.Room, error) {
	room, err := s.reg.CreateRoom(roomID, password, inviteRequired)
	if err != nil {
		if errors.Is(err, registry.ErrRoomExists) {
			return domain.Room{}, ErrRoomExists
		}
		s.log.WithError(err).Error("Failed to create room")
		return domain.Room{}, ErrInternalServer
	}
	return room, nil
}

// Metadata 返回房间的公开元信息（成员数、是否需要密码/邀请）。
func (s *RoomService) Metadata(roomID string) (domain.RoomMetadata, error) {
	meta, err := s.reg.Metadata(roomID)
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			return domain.RoomMetadata{}, ErrRoomNotFound
		}
		s.log.WithError(err).WithField("room_id", roomID).Error("Failed to fetch room metadata")
		return domain.RoomMetadata{}, ErrInternalServer
	}
	return meta, nil
}

// UpdateAccess 更新房间准入设置。password 为 nil 表示保持不变，空串表示
// 清除密码；inviteRequired 为 nil 表示保持不变。请求者必须是房主。
func (s *RoomService) UpdateAccess(roomID, requesterID string, password *string, inviteRequired *bool) error {
	if password != nil {
		if err := s.reg.SetPassword(roomID, requesterID, *password); err != nil {
			return s.mapAccessError(roomID, err)
		}
	}
	if inviteRequired != nil {
		if err := s.reg.SetInviteRequired(roomID, requesterID, *inviteRequired); err != nil {
			return s.mapAccessError(roomID, err)
		}
	}
	return nil
}

func (s *RoomService) mapAccessError(roomID string, err error) error {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, registry.ErrMemberNotFound), errors.Is(err, registry.ErrRoleDenied):
		return ErrNotRoomOwner
	default:
		s.log.WithError(err).WithField("room_id", roomID).Error("Failed to update room access")
		return ErrInternalServer
	}
}

// IssueInvite 为房间签发邀请令牌。请求者必须是该房间的房主。
func (s *RoomService) IssueInvite(roomID, requesterID string, role domain.Role, ttl time.Duration) (string, time.Time, error) {
	requesterRole, err := s.reg.MemberRole(roomID, requesterID)
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			return "", time.Time{}, ErrRoomNotFound
		}
		// 非成员不能签发邀请。
		return "", time.Time{}, ErrNotRoomOwner
	}
	if requesterRole != domain.RoleOwner {
		return "", time.Time{}, ErrNotRoomOwner
	}
	return s.invites.Issue(roomID, role, ttl)
}
