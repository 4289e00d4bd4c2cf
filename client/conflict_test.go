package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuta1414win/PLAINER-sub001/client"
	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestClient_StrategyExposed(t *testing.T) {
	// 未指定时默认 last-write-wins
	c, err := client.New(client.Config{
		Endpoint: "ws://localhost/ws", RoomID: "room-1",
		User: domain.User{ID: "u1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "last-write-wins", c.Strategy().Name())

	// 配置的策略原样暴露
	c, err = client.New(client.Config{
		Endpoint: "ws://localhost/ws", RoomID: "room-1",
		User:     domain.User{ID: "u1"},
		Conflict: client.OperationalTransform{},
	})
	assert.NoError(t, err)
	assert.Equal(t, "operational-transform", c.Strategy().Name())
}

func TestLastWriteWins_NewerChangeApplies(t *testing.T) {
	state := client.ElementState{
		Value:       "hello",
		LastApplied: t0,
		LastAuthor:  "u1",
	}
	change := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 5, Content: "!",
		AuthorID: "u2", Timestamp: t0.Add(time.Second),
	}

	value, applied := client.LastWriteWins{}.Resolve(state, change)
	assert.True(t, applied)
	assert.Equal(t, "hello!", value)
}

func TestLastWriteWins_StaleChangeDropped(t *testing.T) {
	state := client.ElementState{
		Value:       "hello",
		LastApplied: t0,
		LastAuthor:  "u1",
	}
	change := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 0, Content: "X",
		AuthorID: "u2", Timestamp: t0.Add(-time.Second),
	}

	value, applied := client.LastWriteWins{}.Resolve(state, change)
	assert.False(t, applied, "更旧的写入应被丢弃")
	assert.Equal(t, "hello", value)
}

func TestLastWriteWins_TimestampTieBreaksByAuthor(t *testing.T) {
	state := client.ElementState{Value: "hello", LastApplied: t0, LastAuthor: "u2"}

	// 相同时间戳：作者 ID 字典序小者胜出，各端裁决一致
	win := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 0, Content: "A",
		AuthorID: "u1", Timestamp: t0,
	}
	value, applied := client.LastWriteWins{}.Resolve(state, win)
	assert.True(t, applied)
	assert.Equal(t, "Ahello", value)

	lose := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 0, Content: "B",
		AuthorID: "u3", Timestamp: t0,
	}
	_, applied = client.LastWriteWins{}.Resolve(state, lose)
	assert.False(t, applied)
}

func TestOperationalTransform_RebasesOverLocalInsert(t *testing.T) {
	// 远端在看到 "hello" 时往末尾插 "!"；本地并发在头部插了 "AA"。
	// 远端补丁位置应被平移到新末尾。
	state := client.ElementState{
		Value: "AAhello",
		RecentLocal: []domain.ContentChange{{
			Type: domain.ChangeInsert, Position: 0, Content: "AA",
			AuthorID: "me", Timestamp: t0.Add(time.Second),
		}},
	}
	remote := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 5, Content: "!",
		AuthorID: "u2", Timestamp: t0,
	}

	value, applied := client.OperationalTransform{}.Resolve(state, remote)
	assert.True(t, applied)
	assert.Equal(t, "AAhello!", value)
}

func TestOperationalTransform_RebasesOverLocalDelete(t *testing.T) {
	// 本地并发删掉了头部 "he"，远端基于 "hello" 的末尾插入应前移两位
	state := client.ElementState{
		Value: "llo",
		RecentLocal: []domain.ContentChange{{
			Type: domain.ChangeDelete, Position: 0, Content: "he",
			AuthorID: "me", Timestamp: t0.Add(time.Second),
		}},
	}
	remote := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 5, Content: "!",
		AuthorID: "u2", Timestamp: t0,
	}

	value, applied := client.OperationalTransform{}.Resolve(state, remote)
	assert.True(t, applied)
	assert.Equal(t, "llo!", value)
}

func TestOperationalTransform_IgnoresOlderLocalOps(t *testing.T) {
	// 本地补丁早于远端补丁：远端作者已经看到它，不重定位
	state := client.ElementState{
		Value: "AAhello",
		RecentLocal: []domain.ContentChange{{
			Type: domain.ChangeInsert, Position: 0, Content: "AA",
			AuthorID: "me", Timestamp: t0.Add(-time.Second),
		}},
	}
	remote := domain.ContentChange{
		Type: domain.ChangeInsert, Position: 7, Content: "!",
		AuthorID: "u2", Timestamp: t0,
	}

	value, applied := client.OperationalTransform{}.Resolve(state, remote)
	assert.True(t, applied)
	assert.Equal(t, "AAhello!", value)
}

func TestMergeFunc_CustomResolution(t *testing.T) {
	rejectAll := client.MergeFunc(func(local string, change domain.ContentChange) (string, bool) {
		return local, false
	})
	state := client.ElementState{Value: "keep"}
	change := domain.ContentChange{Type: domain.ChangeReplace, Position: 0, Content: "drop", Timestamp: t0}

	value, applied := rejectAll.Resolve(state, change)
	assert.False(t, applied)
	assert.Equal(t, "keep", value)
	assert.Equal(t, "merge", rejectAll.Name())
}
