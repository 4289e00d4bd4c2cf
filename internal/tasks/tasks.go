package tasks

import "encoding/json"

// 任务类型常量。
const (
	// TypeRoomSweep 触发注册表的一次垃圾回收。
	TypeRoomSweep = "room:sweep"
)

// RoomSweepPayload 是 sweep 任务的数据结构。sweep 自身无参数，
// 保留结构体以便将来扩展（如指定单个房间）。
type RoomSweepPayload struct{}

// NewRoomSweepTask 创建 sweep 任务的序列化 payload。
func NewRoomSweepTask() ([]byte, error) {
	return json.Marshal(RoomSweepPayload{})
}
