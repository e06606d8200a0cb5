package quic

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// Listener accepts QUIC connections and hands back framers once the
// client's hello frame has arrived.
type Listener struct {
	listener *quic.Listener
}

func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	l, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return &Listener{listener: l}, nil
}

func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, errors.Wrap(err, "failed to accept stream")
	}

	c := newConn(conn, stream)
	first, err := c.ReadFrame()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if !bytes.Equal(first, hello) {
		_ = c.Close()
		return nil, errors.New("unexpected handshake frame")
	}
	return c, nil
}

func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

func (l *Listener) Close() error { return l.listener.Close() }
