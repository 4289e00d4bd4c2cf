package domain

import "time"

// ChangeType 是内容补丁的操作类型。
type ChangeType string

const (
	ChangeInsert  ChangeType = "insert"
	ChangeDelete  ChangeType = "delete"
	ChangeReplace ChangeType = "replace"
)

// Valid 判断操作类型是否合法。
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeInsert, ChangeDelete, ChangeReplace:
		return true
	}
	return false
}

// ContentChange 是对单个可寻址文本字段的一次位置化补丁。
// ElementID 是逻辑目标（如 "project-name"、"step-title-<id>"），
// Position 在接收方应用时被钳制到 [0, len] 范围。
// 补丁本身不落盘，只有应用后的字段值由外部项目存储持久化。
type ContentChange struct {
	ElementID string     `json:"element_id"`
	Type      ChangeType `json:"change_type"`
	Position  int        `json:"position"`
	Content   string     `json:"content"`
	AuthorID  string     `json:"author_id"`
	Timestamp time.Time  `json:"timestamp"`
}
