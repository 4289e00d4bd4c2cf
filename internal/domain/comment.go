package domain

import "time"

// Comment 是附着在某个步骤上的评论，通过 ParentID 形成线程。
// 评论只在房间存续期间保存在注册表内存中。
type Comment struct {
	ID        string    `json:"id"`
	StepID    string    `json:"step_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	Mentions  []string  `json:"mentions,omitempty"`
	Resolved  bool      `json:"resolved"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
