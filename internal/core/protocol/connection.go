package protocol

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
)

// Handler receives one inbound event. It runs on the read loop, so anything
// slow must be handed off and the message acked later.
type Handler func(msg *Message)

// Message is an inbound event bound to the connection it arrived on.
type Message struct {
	*Envelope
	conn  *Connection
	acked atomic.Bool
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.Wrapf(ErrInvalidMessage, "%s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.Wrap(ErrDeserializationFailed, err.Error())
	}
	return nil
}

// WantsAck reports whether the sender is waiting for an ack.
func (m *Message) WantsAck() bool { return m.Seq != 0 }

// Ack answers the sender. Messages sent without a sequence number ignore it.
func (m *Message) Ack() error {
	if m.Seq == 0 {
		return nil
	}
	if !m.acked.CompareAndSwap(false, true) {
		return ErrAlreadyAcked
	}
	return m.conn.write(&Envelope{Type: EventAck, Seq: m.Seq})
}

func (m *Message) Conn() *Connection { return m.conn }

type Config struct {
	// MaxMessageSize bounds inbound frames; zero disables the check.
	MaxMessageSize int
	Logger         log.Log
	Metrics        *metrics.Collector
}

// Connection layers events, acks and handler dispatch over a Framer.
type Connection struct {
	id          string
	framer      Framer
	codec       JSONCodec
	config      Config
	logger      log.Log
	metrics     *metrics.Collector
	connectedAt time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	pending  map[uint64]chan struct{}
	onClose  []func()

	nextSeq      atomic.Uint64
	closed       atomic.Bool
	done         chan struct{}
	lastReceived atomic.Int64

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
}

func NewConnection(framer Framer, cfg Config) *Connection {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	id := uuid.NewString()
	now := time.Now()
	c := &Connection{
		id:          id,
		framer:      framer,
		config:      cfg,
		logger:      cfg.Logger.With(log.String("connection_id", id)),
		metrics:     cfg.Metrics,
		connectedAt: now,
		handlers:    make(map[string]Handler),
		pending:     make(map[uint64]chan struct{}),
		done:        make(chan struct{}),
	}
	c.lastReceived.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.framer.RemoteAddr() }

// Done is closed once the connection is gone.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) IsClosed() bool { return c.closed.Load() }

// LastReceived is when the peer last sent a well-formed frame, or when the
// connection was opened. Outbound traffic does not count.
func (c *Connection) LastReceived() time.Time {
	return time.Unix(0, c.lastReceived.Load())
}

// On registers the handler for an event, replacing any previous one.
func (c *Connection) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

// OnClose registers fn to run once after the connection closes.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Emit sends a fire-and-forget event.
func (c *Connection) Emit(ctx context.Context, event string, body Body) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := newEnvelope(event, 0, body)
	if err != nil {
		return err
	}
	return c.write(env)
}

// EmitWithAck sends an event and blocks until the peer acks it, ctx ends or
// the connection closes. A ctx deadline surfaces as ErrAckTimeout.
func (c *Connection) EmitWithAck(ctx context.Context, event string, body Body) error {
	seq := c.nextSeq.Add(1)
	env, err := newEnvelope(event, seq, body)
	if err != nil {
		return err
	}

	acked := make(chan struct{})
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[seq] = acked
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err = c.write(env); err != nil {
		return err
	}

	select {
	case <-acked:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(ErrAckTimeout, "%s seq %d", event, seq)
		}
		return ctx.Err()
	}
}

// Serve runs the read loop until the transport fails or ctx ends, then
// closes the connection.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to read frame")
		}
		if c.config.MaxMessageSize > 0 && len(frame) > c.config.MaxMessageSize {
			c.logger.Warn("dropping oversized frame", log.Int("size", len(frame)))
			continue
		}

		env, err := c.codec.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping malformed frame", log.Error(err))
			continue
		}
		c.lastReceived.Store(time.Now().UnixNano())
		c.messagesReceived.Add(1)
		c.metrics.Message("in", env.Type)

		c.dispatch(env)
	}
}

func (c *Connection) dispatch(env *Envelope) {
	if env.Type == EventAck {
		c.mu.Lock()
		ch, ok := c.pending[env.Seq]
		if ok {
			delete(c.pending, env.Seq)
		}
		c.mu.Unlock()
		if ok {
			close(ch)
		}
		return
	}

	c.mu.RLock()
	h, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("no handler for event", log.String("event", env.Type))
		return
	}
	h(&Message{Envelope: env, conn: c})
}

func (c *Connection) write(env *Envelope) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	if err = c.framer.WriteFrame(data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	c.messagesSent.Add(1)
	c.metrics.Message("out", env.Type)
	return nil
}

// Close tears the connection down once; pending acks fail with
// ErrConnectionClosed.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	callbacks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	close(c.done)
	err := c.framer.Close()

	for _, fn := range callbacks {
		fn()
	}
	c.logger.Debug("connection closed",
		log.Uint64("messages_sent", c.messagesSent.Load()),
		log.Uint64("messages_received", c.messagesReceived.Load()),
		log.Duration("uptime", time.Since(c.connectedAt)),
	)
	return err
}
