package client

import (
	"time"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// ElementState 是冲突裁决时可见的本地字段状态。
// RecentLocal 按时间升序保存尚在合并窗口内的本地补丁。
type ElementState struct {
	Value       string
	LastApplied time.Time
	LastAuthor  string
	RecentLocal []domain.ContentChange
}

// pruneRecent 淘汰超出合并窗口的本地补丁。
func (s *ElementState) pruneRecent(now time.Time) {
	cutoff := now.Add(-recentLocalWindow)
	kept := s.RecentLocal[:0]
	for _, op := range s.RecentLocal {
		if op.Timestamp.After(cutoff) {
			kept = append(kept, op)
		}
	}
	s.RecentLocal = kept
}

// Strategy 决定远端补丁如何并入本地字段值。
// Resolve 返回并入后的值以及补丁是否被采纳。
type Strategy interface {
	Name() string
	Resolve(state ElementState, change domain.ContentChange) (string, bool)
}

// LastWriteWins 按时间戳取最新写入；时间戳相同按作者 ID 字典序裁决，
// 保证各端收敛到同一结果。
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return "last-write-wins" }

func (LastWriteWins) Resolve(state ElementState, change domain.ContentChange) (string, bool) {
	if change.Timestamp.Before(state.LastApplied) {
		return state.Value, false
	}
	if change.Timestamp.Equal(state.LastApplied) && change.AuthorID > state.LastAuthor {
		return state.Value, false
	}
	return Apply(state.Value, change), true
}

// OperationalTransform 在应用前把远端补丁的位置按并发的本地补丁重定位，
// 让同一字段上的并发编辑不互相覆盖。
type OperationalTransform struct{}

func (OperationalTransform) Name() string { return "operational-transform" }

func (OperationalTransform) Resolve(state ElementState, change domain.ContentChange) (string, bool) {
	for _, local := range state.RecentLocal {
		if local.Timestamp.Before(change.Timestamp) {
			continue
		}
		change.Position = transformPosition(change.Position, local)
	}
	return Apply(state.Value, change), true
}

// transformPosition 根据一个已应用的本地补丁平移远端位置。
func transformPosition(pos int, op domain.ContentChange) int {
	switch op.Type {
	case domain.ChangeInsert:
		if op.Position <= pos {
			pos += len(op.Content)
		}
	case domain.ChangeDelete:
		if op.Position < pos {
			shift := len(op.Content)
			if shift > pos-op.Position {
				shift = pos - op.Position
			}
			pos -= shift
		}
	}
	return pos
}

// MergeFunc 把裁决交给调用方自定义函数。
type MergeFunc func(local string, change domain.ContentChange) (string, bool)

func (MergeFunc) Name() string { return "merge" }

func (f MergeFunc) Resolve(state ElementState, change domain.ContentChange) (string, bool) {
	return f(state.Value, change)
}
