package protocol

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrAckTimeout       = errors.New("ack timeout")

	ErrMessageTooLarge       = errors.New("message too large")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrSerializationFailed   = errors.New("message serialization failed")
	ErrDeserializationFailed = errors.New("message deserialization failed")
	ErrAlreadyAcked          = errors.New("message already acknowledged")
)
