package client

import (
	"context"
	"sort"
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
)

// AcquireLock 请求独占某资源，阻塞直到服务端应答或 ctx 取消。
// 锁被他人持有时返回 *LockDeniedError。同一资源不允许并发等待。
func (c *Client) AcquireLock(ctx context.Context, resourceID string) (domain.Lock, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	waiter := make(chan lockResult, 1)
	c.mu.Lock()
	if _, busy := c.lockWaiters[resourceID]; busy {
		c.mu.Unlock()
		return domain.Lock{}, ErrLockDenied
	}
	c.lockWaiters[resourceID] = waiter
	c.mu.Unlock()

	if err := c.send(protocol.EventLockAcquire, protocol.LockAcquire{ResourceID: resourceID}); err != nil {
		c.mu.Lock()
		delete(c.lockWaiters, resourceID)
		c.mu.Unlock()
		return domain.Lock{}, err
	}

	select {
	case res := <-waiter:
		return res.lock, res.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.lockWaiters, resourceID)
		c.mu.Unlock()
		return domain.Lock{}, ctx.Err()
	case <-c.stop:
		c.mu.Lock()
		delete(c.lockWaiters, resourceID)
		c.mu.Unlock()
		return domain.Lock{}, ErrClosed
	}
}

// ReleaseLock 释放资源锁。释放是幂等的，无需等待应答。
func (c *Client) ReleaseLock(resourceID string) error {
	return c.send(protocol.EventLockRelease, protocol.LockRelease{ResourceID: resourceID})
}

// AddComment 在某步骤上留言。ID 与时间戳由服务端补齐，
// 生效结果以 comment-added 广播回来。
func (c *Client) AddComment(stepID, content string, mentions []string, parentID string) error {
	return c.send(protocol.EventCommentAdd, protocol.CommentAdd{Comment: domain.Comment{
		StepID:   stepID,
		Content:  content,
		Mentions: mentions,
		ParentID: parentID,
	}})
}

// UpdateComment 修改自己的评论内容。
func (c *Client) UpdateComment(id, content string) error {
	return c.send(protocol.EventCommentUpdate, protocol.CommentUpdate{ID: id, Content: content})
}

// DeleteComment 删除评论。作者本人或房主可删，服务端校验。
func (c *Client) DeleteComment(id string) error {
	return c.send(protocol.EventCommentDelete, protocol.CommentDelete{ID: id})
}

// ResolveComment 将评论标记为已解决。
func (c *Client) ResolveComment(id string) error {
	return c.send(protocol.EventCommentResolve, protocol.CommentResolve{ID: id})
}

// ChangeRole 修改某成员角色，仅房主可用。
func (c *Client) ChangeRole(targetUserID string, role domain.Role) error {
	return c.send(protocol.EventRoleChange, protocol.RoleChange{
		TargetUserID: targetUserID,
		Role:         role,
	})
}

// --- 状态访问 ---

// Status 返回当前连接状态。
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) IsConnected() bool { return c.Status() == StatusConnected }

func (c *Client) IsReconnecting() bool { return c.Status() == StatusReconnecting }

// LastError 返回最近一次导致断开的错误。
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Strategy 返回当前生效的冲突合并策略。配置在 New 之后不再变化，
// 调用方可据此向用户展示合并模式。
func (c *Client) Strategy() Strategy {
	return c.cfg.Conflict
}

// Role 返回本端在房间内的当前角色。
func (c *Client) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Users 返回房间成员列表，按加入时间排序。
func (c *Client) Users() []domain.Member {
	c.mu.Lock()
	members := make([]domain.Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	c.mu.Unlock()
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

// Cursors 返回其他成员的在场光标，超过不活跃窗口的已被剔除。
func (c *Client) Cursors() map[string]domain.Cursor {
	cutoff := time.Now().Add(-c.cfg.CursorMaxIdle)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Cursor, len(c.cursors))
	for id, cur := range c.cursors {
		if cur.UpdatedAt.Before(cutoff) {
			delete(c.cursors, id)
			continue
		}
		out[id] = cur
	}
	return out
}

// Locks 返回当前已知的资源锁，按资源 ID 索引。
func (c *Client) Locks() map[string]domain.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Lock, len(c.locks))
	for id, lk := range c.locks {
		out[id] = lk
	}
	return out
}

// Comments 返回房间内全部评论，按创建时间排序。
func (c *Client) Comments() []domain.Comment {
	c.mu.Lock()
	comments := make([]domain.Comment, 0, len(c.comments))
	for _, cm := range c.comments {
		comments = append(comments, cm)
	}
	c.mu.Unlock()
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments
}

// Value 返回某个被跟踪字段的当前合并值。
func (c *Client) Value(elementID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.elements[elementID]
	if !ok {
		return "", false
	}
	return st.Value, true
}

// --- 回调注册 ---

// OnStatusChange 注册连接状态变化回调，在独立协程中调用。
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// OnContentChange 注册远端补丁生效后的回调，参数为字段的最新合并值。
func (c *Client) OnContentChange(fn func(elementID, value string)) {
	c.mu.Lock()
	c.onContentChange = fn
	c.mu.Unlock()
}

// OnError 注册服务端 error 事件的回调。
func (c *Client) OnError(fn func(*ServerError)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}
