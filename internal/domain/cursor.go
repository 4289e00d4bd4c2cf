package domain

import "time"

// Cursor 是某用户在房间内最后一次已知的指针位置。
// 纯软状态：每次 cursor-update 整体覆盖，超过不活跃窗口后
// 由客户端自行丢弃，服务端不落地。
type Cursor struct {
	UserID    string    `json:"user_id"`
	ElementID string    `json:"element_id,omitempty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
}
