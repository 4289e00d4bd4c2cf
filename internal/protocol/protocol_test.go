package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
	"github.com/yuta1414win/PLAINER-sub001/internal/protocol"
)

func TestEncodeDecode(t *testing.T) {
	data, err := protocol.Encode(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID: "room-1",
		User:   domain.User{ID: "u1", Name: "Alice"},
	})
	require.NoError(t, err)

	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventJoinRoom, env.Type)

	var join protocol.JoinRoom
	require.NoError(t, protocol.DecodePayload(env, &join))
	assert.Equal(t, "room-1", join.RoomID)
	assert.Equal(t, "u1", join.User.ID)
}

func TestEncode_NilPayload(t *testing.T) {
	data, err := protocol.Encode(protocol.EventPing, nil)
	require.NoError(t, err)

	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventPing, env.Type)
	assert.Empty(t, env.Payload)
}

func TestMustEncode(t *testing.T) {
	data := protocol.MustEncode(protocol.EventPresenceJoined, protocol.PresenceJoined{
		Member: domain.Member{ID: "u1"},
	})

	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventPresenceJoined, env.Type)

	// 无法序列化的载荷说明代码写错了，必须立刻暴露
	assert.Panics(t, func() {
		protocol.MustEncode(protocol.EventError, make(chan int))
	})
}

func TestDecode_MalformedEnvelope(t *testing.T) {
	// 非法 JSON
	_, err := protocol.Decode([]byte("{not json"))
	assert.ErrorIs(t, err, protocol.ErrMalformedEnvelope)

	// 缺少 type
	_, err = protocol.Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
}

func TestDecodePayload_Malformed(t *testing.T) {
	env, err := protocol.Decode([]byte(`{"type":"join-room","payload":"oops"}`))
	require.NoError(t, err)

	var join protocol.JoinRoom
	assert.ErrorIs(t, protocol.DecodePayload(env, &join), protocol.ErrMalformedPayload)

	// 空 payload
	env, err = protocol.Decode([]byte(`{"type":"join-room"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, protocol.DecodePayload(env, &join), protocol.ErrMalformedPayload)
}
