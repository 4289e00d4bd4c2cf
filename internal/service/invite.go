package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// InviteService 负责签发与校验邀请令牌。
// 令牌是 HS256 JWT，内嵌目标房间与受邀角色，注册表在 join 时通过
// registry.InviteVerifier 接口回调 Verify。
type InviteService struct {
	secret     []byte
	defaultTTL time.Duration
	log        *logrus.Entry
}

// inviteClaims 是邀请令牌的自定义 Claims。
type inviteClaims struct {
	RoomID string      `json:"room_id"`
	Role   domain.Role `json:"room_role"`
	jwt.RegisteredClaims
}

// NewInviteService 创建 InviteService。secret 不能为空。
func NewInviteService(secret string, defaultTTL time.Duration) (*InviteService, error) {
	if secret == "" {
		return nil, errors.New("invite secret cannot be empty")
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &InviteService{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		log:        logrus.WithField("component", "invite_service"),
	}, nil
}

// Issue 为指定房间签发一个内嵌角色的邀请令牌。
// ttl 为零时使用默认有效期。
func (s *InviteService) Issue(roomID string, role domain.Role, ttl time.Duration) (string, time.Time, error) {
	if !role.Valid() || role == domain.RoleOwner {
		// 邀请不能直接授予 owner，owner 只属于创建者。
		return "", time.Time{}, ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := inviteClaims{
		RoomID: roomID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.log.WithError(err).Error("Failed to sign invite token")
		return "", time.Time{}, ErrInternalServer
	}
	s.log.WithFields(logrus.Fields{
		"room_id":    roomID,
		"role":       role,
		"expires_at": expiresAt,
	}).Info("Invite token issued")
	return token, expiresAt, nil
}

// Verify 校验令牌签名、有效期与目标房间，返回内嵌角色。
// 实现 registry.InviteVerifier。
func (s *InviteService) Verify(token string, roomID string) (domain.Role, error) {
	var claims inviteClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidInvite
	}
	if claims.RoomID != roomID {
		s.log.WithFields(logrus.Fields{
			"room_id":       roomID,
			"token_room_id": claims.RoomID,
		}).Warn("Invite token presented for the wrong room")
		return "", ErrInvalidInvite
	}
	if !claims.Role.Valid() {
		return "", ErrInvalidInvite
	}
	return claims.Role, nil
}
