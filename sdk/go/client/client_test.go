package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/protocol/websocket"
	"github.com/seofernando25/catfish/internal/core/ticker"
	"github.com/seofernando25/catfish/pkg/encoding"
)

const waitFor = 2 * time.Second

// pair connects a running client to a bare server-side connection.
func pair(t *testing.T) (*Client, *protocol.Connection) {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Tickrate = 100
	c, err := NewClient(cfg)
	require.NoError(t, err)

	a, b := protocol.Pipe()
	server := protocol.NewConnection(a, protocol.Config{})
	require.NoError(t, c.attach(b))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Serve(ctx) }()
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
	})
	return c, server
}

func encodeEntity(t *testing.T, fields map[string]any, compress bool) []byte {
	t.Helper()
	if !compress {
		raw, err := encoding.ProtoCodec{}.Encode(fields)
		require.NoError(t, err)
		return raw
	}
	compressor, err := encoding.NewCompressor()
	require.NoError(t, err)
	data, err := encoding.NewZstdCodec(encoding.ProtoCodec{}, compressor).Encode(fields)
	require.NoError(t, err)
	return data
}

func emitAcked(t *testing.T, server *protocol.Connection, event string, body protocol.Body) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, server.EmitWithAck(ctx, event, body))
}

// inWorld reads the local world from the tick goroutine.
func inWorld[T any](t *testing.T, c *Client, fn func(w *ecs.World) T) T {
	t.Helper()
	out := make(chan T, 1)
	c.Do(func(w *ecs.World) { out <- fn(w) })
	select {
	case v := <-out:
		return v
	case <-time.After(waitFor):
		t.Fatal("tick goroutine did not answer")
		var zero T
		return zero
	}
}

func TestReplication_AddUpdateRemove(t *testing.T) {
	c, server := pair(t)

	emitAcked(t, server, protocol.EventAddEntity, protocol.Bytes(encodeEntity(t, map[string]any{
		"id": uint64(7), "type": "player", "x": 1.0, "y": 2.0,
	}, true)))

	fields := inWorld(t, c, func(w *ecs.World) ecs.Fields {
		e, ok := w.Entity(7)
		if !ok {
			return nil
		}
		return e.Fields()
	})
	require.NotNil(t, fields, "acked add must already be applied")
	assert.Equal(t, "player", fields["type"])
	assert.Equal(t, 1.0, fields["x"])

	emitAcked(t, server, protocol.EventUpdateEntity, protocol.Bytes(encodeEntity(t, map[string]any{
		"id": uint64(7), "x": 5.0,
	}, false)))
	x := inWorld(t, c, func(w *ecs.World) float64 {
		e, _ := w.Entity(7)
		v, _ := e.Float("x")
		return v
	})
	assert.Equal(t, 5.0, x)

	emitAcked(t, server, protocol.EventRemoveEntity, protocol.JSON(protocol.RemovePayload{ID: 7}))
	assert.Zero(t, inWorld(t, c, func(w *ecs.World) int { return w.Len() }))
}

func TestReplication_RetriedAddIsIdempotent(t *testing.T) {
	c, server := pair(t)
	body := protocol.Bytes(encodeEntity(t, map[string]any{"id": uint64(3), "type": "chunk"}, true))

	emitAcked(t, server, protocol.EventAddEntity, body)
	emitAcked(t, server, protocol.EventAddEntity, body)
	assert.Equal(t, 1, inWorld(t, c, func(w *ecs.World) int { return w.Len() }))
}

func TestReplication_UndecodableIsNotAcked(t *testing.T) {
	_, server := pair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := server.EmitWithAck(ctx, protocol.EventAddEntity, protocol.Bytes([]byte("garbage")))
	assert.ErrorIs(t, err, protocol.ErrAckTimeout)
}

func TestOnTick_SeesEachMutationOnce(t *testing.T) {
	c, server := pair(t)

	var (
		mu   sync.Mutex
		seen [][]ecs.EntityID
	)
	c.OnTick(func(w *ecs.World) {
		if ids := w.Mutated(); len(ids) > 0 {
			mu.Lock()
			seen = append(seen, ids)
			mu.Unlock()
		}
	})

	emitAcked(t, server, protocol.EventAddEntity, protocol.Bytes(encodeEntity(t, map[string]any{
		"id": uint64(7), "type": "player", "x": 1.0,
	}, true)))
	for _, x := range []float64{2, 3} {
		emitAcked(t, server, protocol.EventUpdateEntity, protocol.Bytes(encodeEntity(t, map[string]any{
			"id": uint64(7), "x": x,
		}, false)))
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	require.Eventually(t, func() bool { return count() == 2 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, inWorld(t, c, func(w *ecs.World) []ecs.EntityID { return w.Mutated() }))
	assert.Equal(t, 2, count())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]ecs.EntityID{{7}, {7}}, seen)
}

func TestTickSync(t *testing.T) {
	c, server := pair(t)

	start := time.Now().Add(-time.Second)
	require.NoError(t, server.Emit(context.Background(), protocol.EventTickSync,
		protocol.JSON(ticker.Info{Tick: 100, StartT: start.UnixMilli(), Tickrate: 10})))

	require.Eventually(t, func() bool { return c.Clock().Tickrate == 10 }, waitFor, 5*time.Millisecond)
	info := c.Clock()
	assert.Equal(t, start.UnixMilli(), info.StartT)
	assert.GreaterOrEqual(t, info.Tick, uint64(100))
}

func TestSpawnMoveAndCatch(t *testing.T) {
	c, server := pair(t)

	server.On(protocol.EventSpawn, func(msg *protocol.Message) { _ = msg.Ack() })
	catches := make(chan protocol.CatchPayload, 1)
	server.On(protocol.EventActionCatch, func(msg *protocol.Message) {
		var p protocol.CatchPayload
		if msg.Decode(&p) == nil {
			catches <- p
		}
	})
	moves := make(chan protocol.MovePayload, 1)
	server.On(protocol.EventActionMove, func(msg *protocol.Message) {
		var p protocol.MovePayload
		if msg.Decode(&p) == nil {
			moves <- p
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Spawn(ctx))
	require.NoError(t, c.Move(ctx, 0.5, -1))

	select {
	case p := <-moves:
		assert.Equal(t, protocol.MovePayload{X: 0.5, Y: -1}, p)
	case <-ctx.Done():
		t.Fatal("action_move never arrived")
	}

	require.NoError(t, c.Catch(ctx, 12))
	select {
	case p := <-catches:
		assert.Equal(t, uint64(12), p.Spot)
	case <-ctx.Done():
		t.Fatal("action_catch never arrived")
	}
}

func TestNotConnected(t *testing.T) {
	c, err := NewClient(DefaultClientConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Spawn(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, c.Move(context.Background(), 1, 0), ErrNotConnected)
	assert.ErrorIs(t, c.Catch(context.Background(), 1), ErrNotConnected)

	_, err = NewClient(Config{Transport: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnect_WebSocketWithToken(t *testing.T) {
	cfg := websocket.DefaultConfig()
	upgrader := websocket.NewUpgrader(cfg)
	tokens := make(chan string, 1)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		framer, err := websocket.Upgrade(upgrader, w, r, cfg)
		if err != nil {
			return
		}
		conn := protocol.NewConnection(framer, protocol.Config{})
		conn.On(protocol.EventSpawn, func(msg *protocol.Message) { _ = msg.Ack() })
		_ = conn.Serve(r.Context())
	}))
	defer hs.Close()

	clientCfg := DefaultClientConfig()
	clientCfg.ServerAddr = "ws" + strings.TrimPrefix(hs.URL, "http")
	clientCfg.Token = "abc"
	c, err := NewClient(clientCfg)
	require.NoError(t, err)

	events := make(chan EventType, 4)
	c.OnEvent(EventTypeConnected, func(e Event) { events <- e.Type })
	c.OnEvent(EventTypeDisconnected, func(e Event) { events <- e.Type })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.ErrorIs(t, c.Connect(ctx), ErrAlreadyConnected)
	assert.Equal(t, "abc", <-tokens)
	assert.Equal(t, EventTypeConnected, <-events)
	require.NoError(t, c.Spawn(ctx))

	require.NoError(t, c.Close())
	assert.Equal(t, EventTypeDisconnected, <-events)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Connect(ctx), ErrClientClosed)
}
