package domain

// Role 表示成员在房间内的权限级别。
type Role string

const (
	// RoleOwner 拥有完整控制权：可改他人角色、设置/移除密码与邀请令牌。
	RoleOwner Role = "owner"
	// RoleEditor 可编辑内容、获取锁、发表评论。
	RoleEditor Role = "editor"
	// RoleViewer 只读：接收全部广播，但服务端拒绝其变更类命令。
	RoleViewer Role = "viewer"
)

// Valid 判断角色值是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanEdit 判断该角色能否执行内容变更、加锁与评论操作。
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}
