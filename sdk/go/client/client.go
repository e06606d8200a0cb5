// Package client connects to a catfish server and keeps a local replica of
// its world.
package client

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/ecs"
	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/protocol/quic"
	"github.com/seofernando25/catfish/internal/core/protocol/websocket"
	"github.com/seofernando25/catfish/internal/core/ticker"
	"github.com/seofernando25/catfish/pkg/encoding"
)

type Transport string

const (
	TransportWebSocket Transport = "ws"
	TransportQUIC      Transport = "quic"
)

type Config struct {
	// ServerAddr is a ws:// url for websocket or host:port for QUIC.
	ServerAddr     string
	Transport      Transport
	Token          string
	ConnectTimeout time.Duration
	// Tickrate is used until the first tick_sync arrives.
	Tickrate float64
	Logger   log.Log
}

func DefaultClientConfig() Config {
	return Config{
		ServerAddr:     "ws://127.0.0.1:8080/ws",
		Transport:      TransportWebSocket,
		ConnectTimeout: 10 * time.Second,
		Tickrate:       ticker.DefaultTickrate,
	}
}

type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Err       error
}

type EventHandler func(event Event)

// Client mirrors the server's world. Replicated changes are applied on the
// client's tick goroutine (see Run) and acked only once applied, so the
// world must only be touched from there: use Do.
type Client struct {
	config Config
	logger log.Log
	world  *ecs.World
	ticker *ticker.Ticker
	// adds arrive compressed, updates as plain records
	adds    encoding.Codec
	updates encoding.ProtoCodec

	tickMu       sync.Mutex
	tickHandlers []*tickHandler

	conn      *protocol.Connection
	connected atomic.Bool
	closed    atomic.Bool

	handlerMu sync.RWMutex
	handlers  map[EventType][]EventHandler
}

func NewClient(config Config) (*Client, error) {
	if config.Transport == "" {
		config.Transport = TransportWebSocket
	}
	if config.Transport != TransportWebSocket && config.Transport != TransportQUIC {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown transport %q", config.Transport)
	}
	if config.Logger == nil {
		config.Logger = log.Nop()
	}
	compressor, err := encoding.NewCompressor()
	if err != nil {
		return nil, err
	}
	logger := config.Logger.With(log.Component("client"))
	c := &Client{
		config:   config,
		logger:   logger,
		world:    ecs.NewWorld(),
		ticker:   ticker.New(ticker.Config{Tickrate: config.Tickrate, Logger: logger}),
		adds:     encoding.NewZstdCodec(encoding.ProtoCodec{}, compressor),
		handlers: make(map[EventType][]EventHandler),
	}
	c.ticker.OnTick(c.tick)
	return c, nil
}

type tickHandler struct {
	fn     func(w *ecs.World)
	active bool
}

// tick runs the OnTick handlers, then forgets this tick's mutations.
func (c *Client) tick() {
	c.tickMu.Lock()
	handlers := slices.Clone(c.tickHandlers)
	c.tickMu.Unlock()
	for _, h := range handlers {
		if h.active {
			h.fn(c.world)
		}
	}
	c.world.ClearMutated()
}

// Connect dials the server and starts reading in the background.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	var (
		framer protocol.Framer
		err    error
	)
	switch c.config.Transport {
	case TransportQUIC:
		framer, err = quic.Dial(ctx, c.config.ServerAddr, quic.InsecureClientTLS())
	default:
		framer, err = websocket.Dial(ctx, c.url(), websocket.DefaultConfig())
	}
	if err != nil {
		return err
	}
	return c.attach(framer)
}

func (c *Client) url() string {
	if c.config.Token == "" {
		return c.config.ServerAddr
	}
	sep := "?"
	if strings.Contains(c.config.ServerAddr, "?") {
		sep = "&"
	}
	return c.config.ServerAddr + sep + "token=" + c.config.Token
}

func (c *Client) attach(framer protocol.Framer) error {
	if !c.connected.CompareAndSwap(false, true) {
		_ = framer.Close()
		return ErrAlreadyConnected
	}

	conn := protocol.NewConnection(framer, protocol.Config{Logger: c.logger})
	conn.On(protocol.EventTickSync, c.handleTickSync)
	conn.On(protocol.EventAddEntity, c.handleAdd)
	conn.On(protocol.EventUpdateEntity, c.handleUpdate)
	conn.On(protocol.EventRemoveEntity, c.handleRemove)
	conn.OnClose(func() {
		c.connected.Store(false)
		c.emit(Event{Type: EventTypeDisconnected})
	})
	c.conn = conn

	go func() {
		if err := conn.Serve(context.Background()); err != nil {
			c.logger.Warn("connection lost", log.Error(err))
			c.emit(Event{Type: EventTypeError, Err: err})
		}
	}()

	c.logger.Info("connected", log.String("server", framer.RemoteAddr().String()))
	c.emit(Event{Type: EventTypeConnected})
	return nil
}

// Run drives the local clock, and with it the application of replicated
// state, until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	return c.ticker.Run(ctx)
}

// Spawn asks the server for the world and blocks until every entity that
// existed at that moment has been received.
func (c *Client) Spawn(ctx context.Context) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.conn.EmitWithAck(ctx, protocol.EventSpawn, protocol.Body{})
}

// Catch takes a fish from a fishing spot. The result shows up as an update
// of the spot's fish count.
func (c *Client) Catch(ctx context.Context, spot ecs.EntityID) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.conn.Emit(ctx, protocol.EventActionCatch, protocol.JSON(protocol.CatchPayload{Spot: uint64(spot)}))
}

// Move sets the direction the player walks in; the server normalizes it.
func (c *Client) Move(ctx context.Context, x, y float64) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.conn.Emit(ctx, protocol.EventActionMove, protocol.JSON(protocol.MovePayload{X: x, Y: y}))
}

// Do runs fn against the local world on the tick goroutine.
func (c *Client) Do(fn func(w *ecs.World)) {
	c.ticker.Enqueue(func() { fn(c.world) })
}

// OnTick registers fn to run every local tick, on the tick goroutine.
// Within fn, w.Mutated() lists the entities the server changed since the
// previous tick.
func (c *Client) OnTick(fn func(w *ecs.World)) func() {
	h := &tickHandler{fn: fn, active: true}
	c.tickMu.Lock()
	c.tickHandlers = append(c.tickHandlers, h)
	c.tickMu.Unlock()
	return func() {
		c.tickMu.Lock()
		defer c.tickMu.Unlock()
		if !h.active {
			return
		}
		h.active = false
		c.tickHandlers = slices.DeleteFunc(c.tickHandlers, func(o *tickHandler) bool { return o == h })
	}
}

func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
	c.handlerMu.Unlock()
}

func (c *Client) Clock() ticker.Info { return c.ticker.Info() }

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) emit(event Event) {
	event.Timestamp = time.Now()
	c.handlerMu.RLock()
	handlers := c.handlers[event.Type]
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

func (c *Client) handleTickSync(msg *protocol.Message) {
	var info ticker.Info
	if err := msg.Decode(&info); err != nil {
		c.logger.Debug("bad tick_sync", log.Error(err))
		return
	}
	c.ticker.Sync(info)
}

func (c *Client) handleAdd(msg *protocol.Message) {
	c.patch(msg, c.adds)
}

func (c *Client) handleUpdate(msg *protocol.Message) {
	c.patch(msg, c.updates)
}

// patch decodes on the read loop and applies on the tick goroutine. A
// message that cannot be decoded is left unacked.
func (c *Client) patch(msg *protocol.Message, codec encoding.Codec) {
	fields, err := codec.Decode(msg.Data)
	if err != nil {
		c.logger.Debug("undecodable entity", log.String("event", msg.Type), log.Error(err))
		return
	}
	id, ok := entityID(fields)
	if !ok {
		c.logger.Debug("entity without id", log.String("event", msg.Type), log.Error(ErrInvalidMessage))
		return
	}
	delete(fields, "id")

	c.ticker.Enqueue(func() {
		if _, err := c.world.PatchEntity(id, fields); err != nil {
			c.logger.Warn("failed to apply entity", log.Uint64("entity", uint64(id)), log.Error(err))
			return
		}
		c.ack(msg)
	})
}

func (c *Client) handleRemove(msg *protocol.Message) {
	var p protocol.RemovePayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Debug("bad remove_entity", log.Error(err))
		return
	}
	c.ticker.Enqueue(func() {
		c.world.RemoveEntity(ecs.EntityID(p.ID))
		c.ack(msg)
	})
}

func (c *Client) ack(msg *protocol.Message) {
	if err := msg.Ack(); err != nil {
		c.logger.Debug("ack failed", log.String("event", msg.Type), log.Error(err))
	}
}

func entityID(fields map[string]any) (ecs.EntityID, bool) {
	n, ok := fields["id"].(float64)
	if !ok || n <= 0 {
		return 0, false
	}
	return ecs.EntityID(n), true
}
