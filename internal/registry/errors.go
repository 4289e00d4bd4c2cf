package registry

import (
	"errors"
	"fmt"
)

// 注册表业务错误。调用方（Hub / HTTP Handler）用 errors.Is 匹配并
// 翻译为协议事件或 HTTP 状态码。
var (
	ErrRoomNotFound    = errors.New("registry: room not found")
	ErrRoomExists      = errors.New("registry: room already exists")
	ErrBadPassword     = errors.New("registry: incorrect room password")
	ErrInviteRequired  = errors.New("registry: invite token required")
	ErrInviteInvalid   = errors.New("registry: invalid invite token")
	ErrMemberNotFound  = errors.New("registry: member not found in room")
	ErrRoleDenied      = errors.New("registry: role does not permit this operation")
	ErrLockHeld        = errors.New("registry: lock held by another member")
	ErrNotLockOwner    = errors.New("registry: lock held by a different owner")
	ErrCommentNotFound = errors.New("registry: comment not found")
	ErrInvalidRole     = errors.New("registry: invalid role")
)

// LockHeldError 携带当前持有者信息的锁冲突错误。
// errors.Is(err, ErrLockHeld) 对其成立。
type LockHeldError struct {
	ResourceID string
	OwnerID    string
	OwnerName  string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("registry: lock on %q held by %s", e.ResourceID, e.OwnerID)
}

func (e *LockHeldError) Unwrap() error { return ErrLockHeld }
