package client

import (
	"sync"
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
)

// TrackCursor 开始上报本端光标。返回的 push 随时可调，
// 实际发送按防抖间隔合并，只发最新位置；cancel 停止上报。
func (c *Client) TrackCursor() (push func(x, y float64, elementID string), cancel func()) {
	var (
		mu     sync.Mutex
		latest protocol.CursorUpdate
		dirty  bool
		once   sync.Once
	)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(c.cfg.CursorDebounce)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-c.stop:
				return
			case <-ticker.C:
				mu.Lock()
				send := dirty
				cur := latest
				dirty = false
				mu.Unlock()
				if !send {
					continue
				}
				// 断线期间静默丢弃，重连后继续。
				_ = c.send(protocol.EventCursorUpdate, cur)
			}
		}
	}()

	push = func(x, y float64, elementID string) {
		mu.Lock()
		latest = protocol.CursorUpdate{ElementID: elementID, X: x, Y: y}
		dirty = true
		mu.Unlock()
	}
	cancel = func() {
		once.Do(func() { close(done) })
	}
	return push, cancel
}

// TrackTextInput 跟踪一个文本字段。push 每次传入完整新值，
// 客户端与上一次的值做 diff，只把单个定位补丁发给服务端；
// 远端对同一字段的补丁按冲突策略并入并通过 OnContentChange 通知。
// cancel 取消跟踪，其后到达的远端补丁被丢弃。
func (c *Client) TrackTextInput(elementID, initial string) (push func(value string), cancel func()) {
	c.mu.Lock()
	c.elements[elementID] = &ElementState{Value: initial}
	c.mu.Unlock()

	push = func(value string) {
		c.mu.Lock()
		st, ok := c.elements[elementID]
		if !ok || st.Value == value {
			c.mu.Unlock()
			return
		}
		change, ok := Diff(elementID, c.cfg.User.ID, st.Value, value)
		if !ok {
			c.mu.Unlock()
			return
		}
		st.Value = value
		st.LastApplied = change.Timestamp
		st.LastAuthor = c.cfg.User.ID
		st.RecentLocal = append(st.RecentLocal, change)
		st.pruneRecent(time.Now())
		c.mu.Unlock()

		if err := c.send(protocol.EventContentChange, change); err != nil {
			c.log.WithError(err).Debug("Content change not sent")
		}
	}
	cancel = func() {
		c.mu.Lock()
		delete(c.elements, elementID)
		c.mu.Unlock()
	}
	return push, cancel
}
