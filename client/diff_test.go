package client_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuta1414win/PLAINER-sub001/client"
	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// --- Apply ---

func TestApply_Insert(t *testing.T) {
	out := client.Apply("helloworld", domain.ContentChange{
		Type: domain.ChangeInsert, Position: 5, Content: "X",
	})
	assert.Equal(t, "helloXworld", out)
}

func TestApply_Delete(t *testing.T) {
	out := client.Apply("aabb", domain.ContentChange{
		Type: domain.ChangeDelete, Position: 0, Content: "aa",
	})
	assert.Equal(t, "bb", out)
}

func TestApply_Replace(t *testing.T) {
	out := client.Apply("abc", domain.ContentChange{
		Type: domain.ChangeReplace, Position: 1, Content: "Z",
	})
	assert.Equal(t, "aZc", out)
}

func TestApply_ClampsOutOfRangePosition(t *testing.T) {
	// 越界位置截断到文本末尾，不 panic
	out := client.Apply("abcd", domain.ContentChange{
		Type: domain.ChangeInsert, Position: 100, Content: "X",
	})
	assert.Equal(t, "abcdX", out)

	out = client.Apply("abcd", domain.ContentChange{
		Type: domain.ChangeInsert, Position: -3, Content: "X",
	})
	assert.Equal(t, "Xabcd", out)
}

func TestApply_ClampsDeleteLength(t *testing.T) {
	// 删除长度超过剩余文本：截断而不是越界
	out := client.Apply("abcd", domain.ContentChange{
		Type: domain.ChangeDelete, Position: 2, Content: "zzzzz",
	})
	assert.Equal(t, "ab", out)
}

// --- Diff ---

func TestDiff_NoChange(t *testing.T) {
	_, ok := client.Diff("el", "u1", "same", "same")
	assert.False(t, ok)
}

func TestDiff_Insert(t *testing.T) {
	change, ok := client.Diff("el", "u1", "abcd", "abXYcd")
	require.True(t, ok)
	assert.Equal(t, domain.ChangeInsert, change.Type)
	assert.Equal(t, 2, change.Position)
	assert.Equal(t, "XY", change.Content)
	assert.Equal(t, "u1", change.AuthorID)
	assert.Equal(t, "el", change.ElementID)
}

func TestDiff_InsertAtEnd(t *testing.T) {
	change, ok := client.Diff("el", "u1", "hello", "helloX")
	require.True(t, ok)
	assert.Equal(t, domain.ChangeInsert, change.Type)
	assert.Equal(t, 5, change.Position)
	assert.Equal(t, "X", change.Content)
}

func TestDiff_Delete(t *testing.T) {
	change, ok := client.Diff("el", "u1", "abXYcd", "abcd")
	require.True(t, ok)
	assert.Equal(t, domain.ChangeDelete, change.Type)
	assert.Equal(t, 2, change.Position)
	assert.Equal(t, "XY", change.Content)
}

func TestDiff_Replace(t *testing.T) {
	change, ok := client.Diff("el", "u1", "abc", "aZc")
	require.True(t, ok)
	assert.Equal(t, domain.ChangeReplace, change.Type)
	assert.Equal(t, 1, change.Position)
	assert.Equal(t, "Z", change.Content)
}

func TestDiff_FallbackFullReplace(t *testing.T) {
	// 长度不等的替换无法保形：退化为覆盖整字段
	change, ok := client.Diff("el", "u1", "abcdef", "abXYf")
	require.True(t, ok)
	assert.Equal(t, domain.ChangeReplace, change.Type)
	assert.Equal(t, 0, change.Position)
	assert.Equal(t, "abXYf", change.Content)
}

func TestDiff_ApplyRoundTrip(t *testing.T) {
	cases := []struct{ old, new string }{
		{"", "hello"},
		{"hello", ""},
		{"hello", "helloX"},
		{"helloworld", "helloXworld"},
		{"aabb", "bb"},
		{"abc", "aZc"},
		{"step title", "step new title"},
		{"ab", "xyz"}, // 增长型复合编辑走整字段覆盖
	}
	for _, tc := range cases {
		change, ok := client.Diff("el", "u1", tc.old, tc.new)
		require.True(t, ok, "%q -> %q", tc.old, tc.new)
		assert.Equal(t, tc.new, client.Apply(tc.old, change), "%q -> %q", tc.old, tc.new)
	}
}
