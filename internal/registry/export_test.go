package registry

import "time"

// SetNow 注入测试时钟，用于验证锁 TTL 与宽限期行为。
func (r *Registry) SetNow(fn func() time.Time) { r.now = fn }
