// Package domain 定义协作引擎的核心数据模型。
package domain

import (
	"hash/fnv"
	"time"
)

// User 是客户端在握手时声明的身份。
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member 表示房间内的一名参与者。
// 断线时仅标记 Online=false 而不删除，宽限期内重连可原样恢复。
type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	Role     Role      `json:"role"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// colorPalette 是固定的成员颜色表。颜色按用户 ID 确定性分配，
// 同一用户在任何客户端上看到的颜色一致。
var colorPalette = []string{
	"#E53E3E", "#DD6B20", "#D69E2E", "#38A169", "#319795",
	"#3182CE", "#5A67D8", "#805AD5", "#D53F8C", "#718096",
}

// ColorFor 为用户 ID 从固定调色板中确定性地选择一个颜色。
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}
