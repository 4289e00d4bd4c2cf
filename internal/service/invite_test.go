package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/service"
)

func newInviteService(t *testing.T) *service.InviteService {
	t.Helper()
	s, err := service.NewInviteService("test-secret-key", time.Hour)
	require.NoError(t, err, "创建 InviteService 不应失败")
	return s
}

func TestInviteService_IssueAndVerify(t *testing.T) {
	s := newInviteService(t)

	token, expiresAt, err := s.Issue("room-1", domain.RoleEditor, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second, "零 TTL 应使用默认有效期")

	role, err := s.Verify(token, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, role)
}

func TestInviteService_RejectsOwnerRole(t *testing.T) {
	s := newInviteService(t)

	// 邀请不能直接授予 owner
	_, _, err := s.Issue("room-1", domain.RoleOwner, time.Hour)
	assert.ErrorIs(t, err, service.ErrInvalidRole)

	_, _, err = s.Issue("room-1", domain.Role("admin"), time.Hour)
	assert.ErrorIs(t, err, service.ErrInvalidRole)
}

func TestInviteService_VerifyRejectsWrongRoom(t *testing.T) {
	s := newInviteService(t)

	token, _, err := s.Issue("room-1", domain.RoleViewer, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(token, "room-2")
	assert.ErrorIs(t, err, service.ErrInvalidInvite)
}

func TestInviteService_VerifyRejectsExpiredToken(t *testing.T) {
	s := newInviteService(t)

	token, _, err := s.Issue("room-1", domain.RoleEditor, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = s.Verify(token, "room-1")
	assert.ErrorIs(t, err, service.ErrInvalidInvite)
}

func TestInviteService_VerifyRejectsForeignSignature(t *testing.T) {
	s := newInviteService(t)
	other, err := service.NewInviteService("a-different-secret", time.Hour)
	require.NoError(t, err)

	token, _, err := other.Issue("room-1", domain.RoleEditor, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(token, "room-1")
	assert.ErrorIs(t, err, service.ErrInvalidInvite)

	_, err = s.Verify("not-a-jwt", "room-1")
	assert.ErrorIs(t, err, service.ErrInvalidInvite)
}

func TestInviteService_RequiresSecret(t *testing.T) {
	_, err := service.NewInviteService("", time.Hour)
	assert.Error(t, err)
}
