package client

import (
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
)

// handleEvent 处理一条服务端事件。读循环单协程调用，
// 连接代数不匹配的旧事件直接丢弃。
func (c *Client) handleEvent(gen int, env protocol.Envelope) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch env.Type {
	case protocol.EventRoomJoined:
		c.handleRoomJoined(env)
	case protocol.EventJoinRejected:
		c.handleJoinRejected(env)
	case protocol.EventPresenceJoined:
		c.handlePresenceJoined(env)
	case protocol.EventPresenceLeft:
		c.handlePresenceLeft(env)
	case protocol.EventCursorUpdate:
		c.handleCursorUpdate(env)
	case protocol.EventContentChange:
		c.handleContentChange(env)
	case protocol.EventLockGranted:
		c.handleLockGranted(env)
	case protocol.EventLockDenied:
		c.handleLockDenied(env)
	case protocol.EventLockReleased:
		c.handleLockReleased(env)
	case protocol.EventRoleChanged:
		c.handleRoleChanged(env)
	case protocol.EventCommentAdded, protocol.EventCommentUpdated, protocol.EventCommentResolved:
		c.handleCommentUpsert(env)
	case protocol.EventCommentDeleted:
		c.handleCommentDeleted(env)
	case protocol.EventPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case protocol.EventError:
		c.handleServerError(env)
	default:
		c.log.WithField("type", string(env.Type)).Debug("Ignoring unexpected server event")
	}
}

// handleRoomJoined 用快照整体替换本地状态，然后唤醒握手等待方。
func (c *Client) handleRoomJoined(env protocol.Envelope) {
	var joined protocol.RoomJoined
	if err := protocol.DecodePayload(env, &joined); err != nil {
		c.log.WithError(err).Warn("Dropping malformed room-joined")
		return
	}

	c.mu.Lock()
	c.role = joined.Role
	c.members = make(map[string]domain.Member, len(joined.Snapshot.Members))
	for _, m := range joined.Snapshot.Members {
		c.members[m.ID] = m
	}
	c.locks = make(map[string]domain.Lock, len(joined.Snapshot.Locks))
	for _, l := range joined.Snapshot.Locks {
		c.locks[l.ResourceID] = l
	}
	c.comments = make(map[string]domain.Comment, len(joined.Snapshot.Comments))
	for _, cm := range joined.Snapshot.Comments {
		c.comments[cm.ID] = cm
	}
	c.cursors = make(map[string]domain.Cursor)
	c.lastPong = time.Now()
	joinCh := c.joinCh
	c.joinCh = nil
	c.mu.Unlock()

	if joinCh != nil {
		select {
		case joinCh <- nil:
		default:
		}
	}
}

func (c *Client) handleJoinRejected(env protocol.Envelope) {
	var rejected protocol.JoinRejected
	if err := protocol.DecodePayload(env, &rejected); err != nil {
		c.log.WithError(err).Warn("Dropping malformed join-rejected")
		return
	}

	c.mu.Lock()
	joinCh := c.joinCh
	c.joinCh = nil
	c.mu.Unlock()

	if joinCh != nil {
		select {
		case joinCh <- &JoinRejectedError{Code: rejected.Code, Message: rejected.Reason}:
		default:
		}
	}
}

func (c *Client) handlePresenceJoined(env protocol.Envelope) {
	var p protocol.PresenceJoined
	if err := protocol.DecodePayload(env, &p); err != nil {
		c.log.WithError(err).Warn("Dropping malformed presence-joined")
		return
	}
	c.mu.Lock()
	c.members[p.Member.ID] = p.Member
	c.mu.Unlock()
}

// handlePresenceLeft 只标记离线不删除：服务端还会在宽限期内保留该成员，
// 重连回来时角色不变。成员真正消失靠下一次快照。
func (c *Client) handlePresenceLeft(env protocol.Envelope) {
	var p protocol.PresenceLeft
	if err := protocol.DecodePayload(env, &p); err != nil {
		c.log.WithError(err).Warn("Dropping malformed presence-left")
		return
	}
	c.mu.Lock()
	if m, ok := c.members[p.UserID]; ok {
		m.Online = false
		c.members[p.UserID] = m
	}
	delete(c.cursors, p.UserID)
	c.mu.Unlock()
}

func (c *Client) handleCursorUpdate(env protocol.Envelope) {
	var cur protocol.CursorUpdate
	if err := protocol.DecodePayload(env, &cur); err != nil {
		c.log.WithError(err).Warn("Dropping malformed cursor-update")
		return
	}
	if cur.UserID == "" || cur.UserID == c.cfg.User.ID {
		return
	}
	c.mu.Lock()
	c.cursors[cur.UserID] = domain.Cursor{
		UserID:    cur.UserID,
		ElementID: cur.ElementID,
		X:         cur.X,
		Y:         cur.Y,
		UpdatedAt: cur.UpdatedAt,
	}
	c.mu.Unlock()
}

// handleContentChange 把远端补丁交给冲突策略裁决后并入被跟踪字段。
// 未跟踪的字段直接丢弃补丁。
func (c *Client) handleContentChange(env protocol.Envelope) {
	var change domain.ContentChange
	if err := protocol.DecodePayload(env, &change); err != nil {
		c.log.WithError(err).Warn("Dropping malformed content-change")
		return
	}

	c.mu.Lock()
	st, ok := c.elements[change.ElementID]
	if !ok {
		c.mu.Unlock()
		c.log.WithField("element_id", change.ElementID).Debug("Content change for untracked element")
		return
	}
	st.pruneRecent(time.Now())
	value, applied := c.cfg.Conflict.Resolve(*st, change)
	if applied {
		st.Value = value
		st.LastApplied = change.Timestamp
		st.LastAuthor = change.AuthorID
	}
	cb := c.onContentChange
	c.mu.Unlock()

	if applied && cb != nil {
		cb(change.ElementID, value)
	}
}

func (c *Client) handleLockGranted(env protocol.Envelope) {
	var granted protocol.LockGranted
	if err := protocol.DecodePayload(env, &granted); err != nil {
		c.log.WithError(err).Warn("Dropping malformed lock-granted")
		return
	}
	lk := granted.Lock

	c.mu.Lock()
	c.locks[lk.ResourceID] = lk
	var waiter chan lockResult
	if lk.OwnerID == c.cfg.User.ID {
		waiter = c.lockWaiters[lk.ResourceID]
		delete(c.lockWaiters, lk.ResourceID)
	}
	c.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- lockResult{lock: lk}:
		default:
		}
	}
}

func (c *Client) handleLockDenied(env protocol.Envelope) {
	var denied protocol.LockDenied
	if err := protocol.DecodePayload(env, &denied); err != nil {
		c.log.WithError(err).Warn("Dropping malformed lock-denied")
		return
	}

	c.mu.Lock()
	waiter := c.lockWaiters[denied.ResourceID]
	delete(c.lockWaiters, denied.ResourceID)
	c.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- lockResult{err: &LockDeniedError{
			ResourceID: denied.ResourceID,
			OwnerID:    denied.CurrentOwner,
			OwnerName:  denied.OwnerName,
		}}:
		default:
		}
	}
}

func (c *Client) handleLockReleased(env protocol.Envelope) {
	var released protocol.LockReleased
	if err := protocol.DecodePayload(env, &released); err != nil {
		c.log.WithError(err).Warn("Dropping malformed lock-released")
		return
	}
	c.mu.Lock()
	delete(c.locks, released.ResourceID)
	c.mu.Unlock()
}

func (c *Client) handleRoleChanged(env protocol.Envelope) {
	var changed protocol.RoleChanged
	if err := protocol.DecodePayload(env, &changed); err != nil {
		c.log.WithError(err).Warn("Dropping malformed role-changed")
		return
	}
	c.mu.Lock()
	if m, ok := c.members[changed.TargetUserID]; ok {
		m.Role = changed.Role
		c.members[changed.TargetUserID] = m
	}
	if changed.TargetUserID == c.cfg.User.ID {
		c.role = changed.Role
	}
	c.mu.Unlock()
}

func (c *Client) handleCommentUpsert(env protocol.Envelope) {
	var ev protocol.CommentEvent
	if err := protocol.DecodePayload(env, &ev); err != nil {
		c.log.WithError(err).Warn("Dropping malformed comment event")
		return
	}
	c.mu.Lock()
	c.comments[ev.Comment.ID] = ev.Comment
	c.mu.Unlock()
}

// handleCommentDeleted 连同直接子回复一起移除，与服务端的级联一致。
func (c *Client) handleCommentDeleted(env protocol.Envelope) {
	var ev protocol.CommentEvent
	if err := protocol.DecodePayload(env, &ev); err != nil {
		c.log.WithError(err).Warn("Dropping malformed comment-deleted")
		return
	}
	c.mu.Lock()
	delete(c.comments, ev.Comment.ID)
	for id, cm := range c.comments {
		if cm.ParentID == ev.Comment.ID {
			delete(c.comments, id)
		}
	}
	c.mu.Unlock()
}

func (c *Client) handleServerError(env protocol.Envelope) {
	var e protocol.Error
	if err := protocol.DecodePayload(env, &e); err != nil {
		c.log.WithError(err).Warn("Dropping malformed error event")
		return
	}
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()

	c.log.WithFields(map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
	}).Warn("Server rejected a request")
	if cb != nil {
		cb(&ServerError{Code: e.Code, Message: e.Message})
	}
}
