package protocol

import "net"

// Framer moves whole frames over some transport. WriteFrame must be safe for
// concurrent use; ReadFrame is only called from the connection's read loop.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	RemoteAddr() net.Addr
	Close() error
}
