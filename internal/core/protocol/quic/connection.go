package quic

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/pkg/generic"
)

var _ protocol.Framer = (*Conn)(nil)

const (
	headerSize = 4
	// MaxFrameSize caps a single envelope.
	MaxFrameSize = 1 << 20
)

// hello is the first frame a client writes. QUIC only announces a stream to
// the peer once data flows on it, so the server cannot accept the stream
// before the client speaks.
var hello = []byte(`{"type":"hello"}`)

var frameBuffers = generic.NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 1024)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// Conn carries length-prefixed frames over a single bidirectional stream.
type Conn struct {
	conn   *quic.Conn
	stream *quic.Stream
	reader *bufio.Reader

	writeMu sync.Mutex
	once    sync.Once
}

func newConn(conn *quic.Conn, stream *quic.Stream) *Conn {
	return &Conn{conn: conn, stream: stream, reader: bufio.NewReader(stream)}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Dial opens a connection and its stream, then sends the hello frame.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	c := newConn(conn, stream)
	if err = c.WriteFrame(hello); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) ReadFrame() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read frame header")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, errors.Wrapf(protocol.ErrMessageTooLarge, "frame of %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.reader, data); err != nil {
		return nil, errors.Wrap(err, "failed to read frame body")
	}
	return data, nil
}

func (c *Conn) WriteFrame(data []byte) error {
	if len(data) > MaxFrameSize {
		return errors.Wrapf(protocol.ErrMessageTooLarge, "frame of %d bytes", len(data))
	}
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	buf.Write(header[:])
	buf.Write(data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stream.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "connection closed")
	})
	return err
}
