package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/events/bus"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/protocol/websocket"
	"github.com/seofernando25/catfish/internal/core/ticker"
	"github.com/seofernando25/catfish/internal/game"
	"github.com/seofernando25/catfish/pkg/encoding"
)

const (
	waitFor = 5 * time.Second
	poll    = 10 * time.Millisecond
)

// testConfig yields a world of exactly three entities: one chunk and two
// fishing spots that never expire during a test.
func testConfig() Config {
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.QUIC.ListenAddr = "127.0.0.1:0"
	cfg.Tickrate = 50
	cfg.Replication.BatchInterval = 5 * time.Millisecond
	cfg.Replication.AckTimeout = 500 * time.Millisecond
	cfg.Game.WorldSize = 64
	cfg.Game.ChunkSize = 64
	cfg.Game.FishingSpots = 2
	cfg.Game.SpotLifetime = time.Hour
	return cfg
}

func newSim(t *testing.T, cfg Config) (*game.Sim, bus.EventBus) {
	t.Helper()
	b := bus.New()
	tk := ticker.New(ticker.Config{Tickrate: cfg.Tickrate})
	sim := game.New(cfg.Game, tk, game.Deps{Bus: b})
	t.Cleanup(sim.Close)
	return sim, b
}

// startServer serves the handler over httptest and runs the clock.
func startServer(t *testing.T, cfg Config) (*Server, *game.Sim, string) {
	t.Helper()
	sim, b := newSim(t, cfg)
	srv, err := New(cfg, sim, Deps{Bus: b})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sim.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, sim, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

// onSim runs fn on the simulation goroutine and waits for it.
func onSim(t *testing.T, sim *game.Sim, fn func()) {
	t.Helper()
	done := make(chan struct{})
	sim.Do(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("simulation did not run the queued function")
	}
}

// testClient records what the server replicates and acks everything.
type testClient struct {
	conn    *protocol.Connection
	adds    *encoding.ZstdCodec
	updates encoding.ProtoCodec

	mu       sync.Mutex
	refuse   map[uint64]bool
	attempts map[uint64]int
	adds     map[uint64]int
	removes  map[uint64]int
	entities map[uint64]map[string]any
	syncs    []ticker.Info
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	framer, err := websocket.Dial(ctx, url, websocket.DefaultConfig())
	require.NoError(t, err)
	return attach(t, framer)
}

func attach(t *testing.T, framer protocol.Framer) *testClient {
	t.Helper()
	compressor, err := encoding.NewCompressor()
	require.NoError(t, err)

	c := &testClient{
		conn:     protocol.NewConnection(framer, protocol.Config{}),
		adds:     encoding.NewZstdCodec(encoding.ProtoCodec{}, compressor),
		refuse:   map[uint64]bool{},
		attempts: map[uint64]int{},
		adds:     map[uint64]int{},
		removes:  map[uint64]int{},
		entities: map[uint64]map[string]any{},
	}
	c.conn.On(protocol.EventAddEntity, func(msg *protocol.Message) {
		fields, err := c.adds.Decode(msg.Data)
		if err != nil {
			return
		}
		if c.apply(fields, true) {
			_ = msg.Ack()
		}
	})
	c.conn.On(protocol.EventUpdateEntity, func(msg *protocol.Message) {
		if fields, err := c.updates.Decode(msg.Data); err == nil {
			c.apply(fields, false)
		}
		_ = msg.Ack()
	})
	c.conn.On(protocol.EventRemoveEntity, func(msg *protocol.Message) {
		var p protocol.RemovePayload
		if msg.Decode(&p) == nil {
			c.mu.Lock()
			c.removes[p.ID]++
			delete(c.entities, p.ID)
			c.mu.Unlock()
		}
		_ = msg.Ack()
	})
	c.conn.On(protocol.EventTickSync, func(msg *protocol.Message) {
		var info ticker.Info
		if msg.Decode(&info) == nil {
			c.mu.Lock()
			c.syncs = append(c.syncs, info)
			c.mu.Unlock()
		}
	})

	go func() { _ = c.conn.Serve(context.Background()) }()
	t.Cleanup(func() { _ = c.conn.Close() })
	return c
}

// apply records an entity and reports whether it should be acked.
func (c *testClient) apply(fields map[string]any, add bool) bool {
	id := uint64(fields["id"].(float64))
	c.mu.Lock()
	defer c.mu.Unlock()
	if add {
		c.attempts[id]++
		if c.refuse[id] {
			return false
		}
		c.adds[id]++
	}
	if c.entities[id] == nil {
		c.entities[id] = map[string]any{}
	}
	for k, v := range fields {
		c.entities[id][k] = v
	}
	return true
}

func (c *testClient) spawn(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.conn.EmitWithAck(ctx, protocol.EventSpawn, protocol.Body{}))
}

func (c *testClient) addCount(id ecs.EntityID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adds[uint64(id)]
}

func (c *testClient) kind(kind string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, fields := range c.entities {
		if fields[ecs.KindField] == kind {
			copied := make(map[string]any, len(fields))
			for k, v := range fields {
				copied[k] = v
			}
			out = append(out, copied)
		}
	}
	return out
}
