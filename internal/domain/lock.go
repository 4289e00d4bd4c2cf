package domain

import "time"

// Lock 是对某个命名资源（字段或 UI 区域）的排他性占用。
// 锁带 TTL，持有者崩溃或断线后由服务端 sweep 自动回收，
// 不依赖持有者主动释放。
type Lock struct {
	ResourceID string    `json:"resource_id"`
	OwnerID    string    `json:"owner_id"`
	OwnerName  string    `json:"owner_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired 判断锁在给定时刻是否已过期。
// 过期的锁在下一次 acquire 时视同不存在。
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
