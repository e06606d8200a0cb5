package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/seofernando25/catfish/internal/core/protocol"
)

var _ protocol.Framer = (*Conn)(nil)

type Config struct {
	BufferSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     4096,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Conn frames protocol envelopes as websocket text messages.
type Conn struct {
	conn   *websocket.Conn
	config Config

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
	once    sync.Once
	stop    chan struct{}
}

func newConn(conn *websocket.Conn, cfg Config) *Conn {
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	c := &Conn{conn: conn, config: cfg, stop: make(chan struct{})}
	if cfg.PingInterval > 0 {
		go c.keepAlive()
	}
	return c
}

// NewUpgrader returns an upgrader accepting any origin.
func NewUpgrader(cfg Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.BufferSize,
		WriteBufferSize: cfg.BufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Upgrade switches an HTTP request to a websocket connection.
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upgrade connection")
	}
	return newConn(conn, cfg), nil
}

// Dial connects to a websocket endpoint such as ws://host/ws.
func Dial(ctx context.Context, url string, cfg Config) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	return newConn(conn, cfg), nil
}

func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) keepAlive() {
	t := time.NewTicker(c.config.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
