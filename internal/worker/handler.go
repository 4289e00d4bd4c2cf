package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/registry"
)

// SweepHandler 处理周期性的注册表垃圾回收任务：
// 清除超过宽限期的离线成员、过期的锁与空置房间。
type SweepHandler struct {
	reg *registry.Registry
}

// NewSweepHandler 创建 Handler 实例。
func NewSweepHandler(reg *registry.Registry) *SweepHandler {
	if reg == nil {
		panic("Registry cannot be nil for SweepHandler")
	}
	return &SweepHandler{reg: reg}
}

// ProcessTask 实现 asynq.Handler。sweep 是幂等的，任何失败都可安全重试。
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	stats := h.reg.Sweep(time.Now())
	logrus.WithFields(logrus.Fields{
		"task_type":      t.Type(),
		"members_purged": stats.MembersPurged,
		"locks_expired":  stats.LocksExpired,
		"rooms_removed":  stats.RoomsRemoved,
	}).Debug("Room sweep task processed")
	return nil
}
