package domain

// Snapshot 是加入房间时下发的完整房间状态（成员、锁、评论）。
// 它是唯一的状态同步机制：重连后的客户端用快照整体替换本地状态，
// 不回放错过的细粒度事件。
type Snapshot struct {
	Members  []Member  `json:"members"`
	Locks    []Lock    `json:"locks"`
	Comments []Comment `json:"comments"`
}
