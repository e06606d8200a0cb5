package protocol

import (
	"io"
	"net"
	"sync"
)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

type pipeEnd struct {
	name   string
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	peer   *pipeEnd
	once   sync.Once
}

// Pipe returns two connected in-memory framers. Closing either end ends both.
func Pipe() (Framer, Framer) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	a := &pipeEnd{name: "pipe-a", in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeEnd{name: "pipe-b", in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) ReadFrame() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	case <-p.peer.closed:
		return nil, io.EOF
	}
}

func (p *pipeEnd) WriteFrame(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case <-p.closed:
		return ErrConnectionClosed
	case <-p.peer.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrConnectionClosed
	case <-p.peer.closed:
		return ErrConnectionClosed
	}
}

func (p *pipeEnd) RemoteAddr() net.Addr { return pipeAddr(p.peer.name) }

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
