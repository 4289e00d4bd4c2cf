package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

func TestColorFor_Deterministic(t *testing.T) {
	// 同一用户在任何节点上拿到同一颜色
	c1 := domain.ColorFor("alice")
	c2 := domain.ColorFor("alice")
	assert.Equal(t, c1, c2)
	assert.NotEmpty(t, c1)
	assert.Equal(t, byte('#'), c1[0])
}

func TestRole(t *testing.T) {
	assert.True(t, domain.RoleOwner.Valid())
	assert.True(t, domain.RoleEditor.Valid())
	assert.True(t, domain.RoleViewer.Valid())
	assert.False(t, domain.Role("admin").Valid())
	assert.False(t, domain.Role("").Valid())

	assert.True(t, domain.RoleOwner.CanEdit())
	assert.True(t, domain.RoleEditor.CanEdit())
	assert.False(t, domain.RoleViewer.CanEdit())
}

func TestChangeTypeValid(t *testing.T) {
	assert.True(t, domain.ChangeInsert.Valid())
	assert.True(t, domain.ChangeDelete.Valid())
	assert.True(t, domain.ChangeReplace.Valid())
	assert.False(t, domain.ChangeType("move").Valid())
}

func TestLockExpired(t *testing.T) {
	now := time.Now()
	lock := domain.Lock{ResourceID: "step-1", ExpiresAt: now.Add(30 * time.Second)}

	assert.False(t, lock.Expired(now))
	assert.False(t, lock.Expired(now.Add(29*time.Second)))
	// 过期时刻本身视为已过期
	assert.True(t, lock.Expired(now.Add(30*time.Second)))
	assert.True(t, lock.Expired(now.Add(time.Minute)))
}

func TestRoomHasPassword(t *testing.T) {
	assert.False(t, domain.Room{}.HasPassword())
	assert.True(t, domain.Room{PasswordHash: "$2a$10$x"}.HasPassword())
}
