package registry

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// AddComment 新增一条评论。作者需具备编辑权限；ID 与时间戳由服务端
// 填充，客户端提交的值被忽略。ParentID 指向的父评论必须存在。
func (r *Registry) AddComment(roomID, authorID string, c domain.Comment) (domain.Comment, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.Comment{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	member, ok := rm.members[authorID]
	if !ok {
		return domain.Comment{}, ErrMemberNotFound
	}
	if !member.Role.CanEdit() {
		return domain.Comment{}, ErrRoleDenied
	}
	if c.ParentID != "" {
		if _, ok := rm.comments[c.ParentID]; !ok {
			return domain.Comment{}, ErrCommentNotFound
		}
	}

	now := r.now()
	c.ID = uuid.NewString()
	c.AuthorID = authorID
	c.Resolved = false
	c.CreatedAt = now
	c.UpdatedAt = now
	rm.comments[c.ID] = &c

	r.log.WithFields(logrus.Fields{
		"room_id":    roomID,
		"user_id":    authorID,
		"comment_id": c.ID,
		"step_id":    c.StepID,
	}).Debug("Comment added")
	return c, nil
}

// UpdateComment 修改评论内容。仅作者本人或房主可改。
func (r *Registry) UpdateComment(roomID, userID, commentID, content string) (domain.Comment, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.Comment{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	c, err := rm.authorOrOwnerLocked(userID, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	c.Content = content
	c.UpdatedAt = r.now()
	return *c, nil
}

// DeleteComment 删除评论及其直接回复。仅作者本人或房主可删。
func (r *Registry) DeleteComment(roomID, userID, commentID string) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, err := rm.authorOrOwnerLocked(userID, commentID); err != nil {
		return err
	}
	delete(rm.comments, commentID)
	for id, child := range rm.comments {
		if child.ParentID == commentID {
			delete(rm.comments, id)
		}
	}
	return nil
}

// ResolveComment 将评论标记为已解决。任何具备编辑权限的成员可操作。
func (r *Registry) ResolveComment(roomID, userID, commentID string) (domain.Comment, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.Comment{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	member, ok := rm.members[userID]
	if !ok {
		return domain.Comment{}, ErrMemberNotFound
	}
	if !member.Role.CanEdit() {
		return domain.Comment{}, ErrRoleDenied
	}
	c, ok := rm.comments[commentID]
	if !ok {
		return domain.Comment{}, ErrCommentNotFound
	}
	c.Resolved = true
	c.UpdatedAt = r.now()
	return *c, nil
}

// authorOrOwnerLocked 校验操作者是评论作者或房主，返回评论指针。
func (rm *room) authorOrOwnerLocked(userID, commentID string) (*domain.Comment, error) {
	member, ok := rm.members[userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	c, ok := rm.comments[commentID]
	if !ok {
		return nil, ErrCommentNotFound
	}
	if c.AuthorID != userID && member.Role != domain.RoleOwner {
		return nil, ErrRoleDenied
	}
	return c, nil
}
