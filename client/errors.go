package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected 在未处于 connected 状态时发起操作返回。
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected 在重复调用 Connect 时返回。
	ErrAlreadyConnected = errors.New("client: already connected")
	// ErrClosed 在客户端已被 Disconnect 后返回。
	ErrClosed = errors.New("client: closed")
	// ErrLockDenied 表示锁被他人持有，详细信息见 LockDeniedError。
	ErrLockDenied = errors.New("client: lock denied")
)

// JoinRejectedError 表示入房握手被服务端拒绝。拒绝是终态，客户端不重试。
type JoinRejectedError struct {
	Code    string
	Message string
}

func (e *JoinRejectedError) Error() string {
	return fmt.Sprintf("client: join rejected (%s): %s", e.Code, e.Message)
}

// LockDeniedError 携带当前持有者信息，便于界面提示。
type LockDeniedError struct {
	ResourceID string
	OwnerID    string
	OwnerName  string
}

func (e *LockDeniedError) Error() string {
	return fmt.Sprintf("client: lock on %q held by %s", e.ResourceID, e.OwnerID)
}

func (e *LockDeniedError) Unwrap() error { return ErrLockDenied }

// ServerError 是服务端回发的 error 事件。
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server error (%s): %s", e.Code, e.Message)
}
