// Package client 是协作引擎的客户端：在一条持久 WebSocket 连接之上
// 提供带防抖、本地 diff 与类型化 API 的门面（connect / trackCursor /
// trackTextInput / acquireLock / 评论），并维护成员、光标、锁的本地
// 响应式状态。
package client

import "fmt"

// Status 是连接生命周期状态。
// 状态机：disconnected → connecting → connected → reconnecting → ...
// 握手被拒绝时从 connecting 直接落回 disconnected，不重试。
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// canTransition 校验状态迁移是否合法。
func (s Status) canTransition(to Status) bool {
	switch s {
	case StatusDisconnected:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusConnected || to == StatusDisconnected
	case StatusConnected:
		return to == StatusReconnecting || to == StatusDisconnected
	case StatusReconnecting:
		return to == StatusConnected || to == StatusDisconnected
	}
	return false
}
