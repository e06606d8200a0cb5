package replication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/pkg/encoding"
)

func testReplicator(t *testing.T, sock Socket) (*Replicator, *encoding.ZstdCodec) {
	t.Helper()
	compressor, err := encoding.NewCompressor()
	require.NoError(t, err)
	codec := encoding.NewZstdCodec(encoding.ProtoCodec{}, compressor)
	r := NewReplicator(context.Background(), sock, codec, OutboxConfig{BatchInterval: 5 * time.Millisecond})
	t.Cleanup(r.Close)
	return r, codec
}

func TestReplicator_AddIsSentOnceAndCompressed(t *testing.T) {
	sock := newFakeSocket()
	r, codec := testReplicator(t, sock)

	e := ecs.NewEntity(4, ecs.Fields{"type": "fishing_spot", "fish": 2.0})
	p, err := r.Add(e)
	require.NoError(t, err)
	require.NotNil(t, p)

	dup, err := r.Add(e)
	require.NoError(t, err)
	assert.Nil(t, dup, "known entities are not sent twice")

	waitAll(t, p)
	calls := sock.Calls()
	require.Len(t, calls, 1)

	fields, err := codec.Decode(calls[0].body.Data)
	require.NoError(t, err)
	assert.Equal(t, 4.0, fields["id"])
	assert.Equal(t, "fishing_spot", fields["type"])
}

func TestReplicator_UpdateSkipsUnknownAndUnchanged(t *testing.T) {
	sock := newFakeSocket()
	r, _ := testReplicator(t, sock)

	e := ecs.NewEntity(1, ecs.Fields{"x": 1.0})
	p, err := r.Update(e)
	require.NoError(t, err)
	assert.Nil(t, p, "client never saw the entity")

	add, _ := r.Add(e)
	unchanged, err := r.Update(e)
	require.NoError(t, err)
	assert.Nil(t, unchanged)

	e.Set("x", 2.0)
	changed, err := r.Update(e)
	require.NoError(t, err)
	require.NotNil(t, changed)

	waitAll(t, add, changed)
	assert.Equal(t, []string{protocol.EventAddEntity, protocol.EventUpdateEntity}, sock.Events())
}

func TestReplicator_RemoveOnlyKnown(t *testing.T) {
	sock := newFakeSocket()
	r, _ := testReplicator(t, sock)

	assert.Nil(t, r.Remove(9))

	e := ecs.NewEntity(9, nil)
	add, _ := r.Add(e)
	remove := r.Remove(9)
	require.NotNil(t, remove)
	assert.False(t, r.Knows(9))

	waitAll(t, add, remove)
	calls := sock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.EventRemoveEntity, calls[1].event)

	raw, err := json.Marshal(calls[1].body.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9}`, string(raw))

	again, _ := r.Add(e)
	assert.NotNil(t, again, "a removed entity can be re-added")
}
