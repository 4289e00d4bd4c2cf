package client

import (
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// Diff 把一次文本编辑压缩为单个定位补丁。
// 能识别纯插入、纯删除与等长替换；无法用单补丁表达的复合编辑
// 退化为覆盖整个字段的 replace。新旧相同返回 ok=false。
func Diff(elementID, authorID, oldText, newText string) (domain.ContentChange, bool) {
	if oldText == newText {
		return domain.ContentChange{}, false
	}

	prefix := commonPrefix(oldText, newText)
	suffix := commonSuffix(oldText[prefix:], newText[prefix:])

	oldMid := oldText[prefix : len(oldText)-suffix]
	newMid := newText[prefix : len(newText)-suffix]

	change := domain.ContentChange{
		ElementID: elementID,
		AuthorID:  authorID,
		Position:  prefix,
		Timestamp: time.Now(),
	}

	switch {
	case len(oldMid) == 0:
		change.Type = domain.ChangeInsert
		change.Content = newMid
	case len(newMid) == 0:
		change.Type = domain.ChangeDelete
		change.Content = oldMid
	case len(oldMid) == len(newMid):
		change.Type = domain.ChangeReplace
		change.Content = newMid
	default:
		// 长度不等的替换无法保形，整字段覆盖。
		change.Type = domain.ChangeReplace
		change.Position = 0
		change.Content = newText
	}
	return change, true
}

// Apply 将补丁作用到文本上。越界的 position 截断到 [0, len(text)]，
// delete/replace 的移除长度截断到剩余文本长度，绝不 panic。
func Apply(text string, change domain.ContentChange) string {
	pos := change.Position
	if pos < 0 {
		pos = 0
	}
	if pos > len(text) {
		pos = len(text)
	}

	switch change.Type {
	case domain.ChangeInsert:
		return text[:pos] + change.Content + text[pos:]
	case domain.ChangeDelete:
		n := len(change.Content)
		if n > len(text)-pos {
			n = len(text) - pos
		}
		return text[:pos] + text[pos+n:]
	case domain.ChangeReplace:
		n := len(change.Content)
		if n > len(text)-pos {
			n = len(text) - pos
		}
		return text[:pos] + change.Content + text[pos+n:]
	}
	return text
}

func commonPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
