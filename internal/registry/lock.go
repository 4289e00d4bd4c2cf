package registry

import (
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// AcquireLock 尝试为成员获取资源锁。
// 同一 resourceId 在房间内唯一：无锁或锁已过期则授予；持有者重入视为
// 刷新 TTL（幂等）；被他人持有且未过期则返回 *LockHeldError。
// 两个并发的 acquire 不可能同时成功——整个判定在房间锁内完成。
func (r *Registry) AcquireLock(roomID, userID, resourceID string) (domain.Lock, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.Lock{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	member, ok := rm.members[userID]
	if !ok {
		return domain.Lock{}, ErrMemberNotFound
	}
	if !member.Role.CanEdit() {
		return domain.Lock{}, ErrRoleDenied
	}

	now := r.now()
	if existing, held := rm.locks[resourceID]; held && !existing.Expired(now) && existing.OwnerID != userID {
		return domain.Lock{}, &LockHeldError{
			ResourceID: resourceID,
			OwnerID:    existing.OwnerID,
			OwnerName:  existing.OwnerName,
		}
	}

	lock := domain.Lock{
		ResourceID: resourceID,
		OwnerID:    userID,
		OwnerName:  member.Name,
		AcquiredAt: now,
		ExpiresAt:  now.Add(r.cfg.LockTTL),
	}
	rm.locks[resourceID] = lock
	r.log.WithFields(logrus.Fields{
		"room_id":     roomID,
		"user_id":     userID,
		"resource_id": resourceID,
		"expires_at":  lock.ExpiresAt,
	}).Debug("Lock acquired")
	return lock, nil
}

// ReleaseLock 释放成员持有的资源锁。锁不存在时视为已释放（幂等）；
// 被他人持有时返回 ErrNotLockOwner，不改变状态。
func (r *Registry) ReleaseLock(roomID, userID, resourceID string) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	existing, held := rm.locks[resourceID]
	if !held {
		return nil
	}
	if existing.OwnerID != userID && !existing.Expired(r.now()) {
		return ErrNotLockOwner
	}
	delete(rm.locks, resourceID)
	r.log.WithFields(logrus.Fields{
		"room_id":     roomID,
		"user_id":     userID,
		"resource_id": resourceID,
	}).Debug("Lock released")
	return nil
}

// ReleaseAllLocks 释放成员持有的全部锁，返回被释放的 resourceId 列表。
// 显式 disconnect 的服务端清理路径。
func (r *Registry) ReleaseAllLocks(roomID, userID string) []string {
	rm, err := r.get(roomID)
	if err != nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var released []string
	for res, lock := range rm.locks {
		if lock.OwnerID == userID {
			delete(rm.locks, res)
			released = append(released, res)
		}
	}
	return released
}
