package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a, b := Pipe()
	server := NewConnection(a, Config{})
	client := NewConnection(b, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx) }()
	go func() { _ = client.Serve(ctx) }()
	return server, client
}

func TestEmitWithAck_ResolvesOnAck(t *testing.T) {
	server, client := connectedPair(t)

	got := make(chan RemovePayload, 1)
	client.On(EventRemoveEntity, func(msg *Message) {
		var p RemovePayload
		require.NoError(t, msg.Decode(&p))
		got <- p
		require.NoError(t, msg.Ack())
		assert.ErrorIs(t, msg.Ack(), ErrAlreadyAcked)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.EmitWithAck(ctx, EventRemoveEntity, JSON(RemovePayload{ID: 9})))
	assert.Equal(t, uint64(9), (<-got).ID)
}

func TestEmitWithAck_TimesOutWithoutAck(t *testing.T) {
	server, client := connectedPair(t)
	client.On(EventAddEntity, func(msg *Message) {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := server.EmitWithAck(ctx, EventAddEntity, Bytes([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrAckTimeout)
}

func TestEmitWithAck_FailsWhenPeerCloses(t *testing.T) {
	server, client := connectedPair(t)
	client.On(EventSpawn, func(msg *Message) { _ = msg.Conn().Close() })

	err := server.EmitWithAck(context.Background(), EventSpawn, Body{})
	assert.ErrorIs(t, err, ErrConnectionClosed)

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("server side never noticed the close")
	}
	assert.ErrorIs(t, server.Emit(context.Background(), EventTickSync, Body{}), ErrConnectionClosed)
}

func TestEmit_BinaryDataRoundTrips(t *testing.T) {
	server, client := connectedPair(t)

	got := make(chan []byte, 1)
	client.On(EventUpdateEntity, func(msg *Message) {
		assert.False(t, msg.WantsAck())
		got <- msg.Data
	})

	require.NoError(t, server.Emit(context.Background(), EventUpdateEntity, Bytes([]byte{0, 255, 7})))
	select {
	case data := <-got:
		assert.Equal(t, []byte{0, 255, 7}, data)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestOnCloseRunsOnce(t *testing.T) {
	server, _ := connectedPair(t)
	calls := 0
	server.OnClose(func() { calls++ })

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	server.OnClose(func() { calls++ })

	assert.Equal(t, 2, calls, "late registration runs immediately")
}

func TestCodecRejectsUntypedFrames(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte(`{"seq":1}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = JSONCodec{}.Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrDeserializationFailed)
}

func TestLastReceived_IgnoresOutboundFrames(t *testing.T) {
	server, client := connectedPair(t)
	opened := server.LastReceived()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Emit(context.Background(), EventTickSync, JSON(map[string]int{"tick": 1})))
	assert.Equal(t, opened, server.LastReceived())

	require.NoError(t, client.Emit(context.Background(), EventActionMove, JSON(MovePayload{X: 1})))
	assert.Eventually(t, func() bool { return server.LastReceived().After(opened) },
		time.Second, 5*time.Millisecond)
}
