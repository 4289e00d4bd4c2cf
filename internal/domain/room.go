package domain

import "time"

// Room 表示一个协作会话的元数据，作用域为单个项目。
// 成员、锁、评论等可变集合由 registry 持有并通过 Snapshot 暴露。
type Room struct {
	ID             string    `json:"id"`
	PasswordHash   string    `json:"-"`
	InviteRequired bool      `json:"invite_required"`
	CreatorID      string    `json:"creator_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasPassword 判断房间是否设置了密码。
func (r Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// RoomMetadata 是房间管理 API 返回的公开元信息，
// 供项目分享对话框等外部 UI 使用。
type RoomMetadata struct {
	RoomID           string `json:"room_id"`
	MemberCount      int    `json:"member_count"`
	PasswordRequired bool   `json:"password_required"`
	InviteRequired   bool   `json:"invite_required"`
}
