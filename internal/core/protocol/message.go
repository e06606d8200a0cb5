package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Event names understood by server and client.
const (
	EventAck          = "ack"
	EventAddEntity    = "add_entity"
	EventUpdateEntity = "update_entity"
	EventRemoveEntity = "remove_entity"
	EventTickSync     = "tick_sync"
	EventSpawn        = "spawn"
	EventActionMove   = "action_move"
	EventActionCatch  = "action_catch"
)

// Envelope is the single frame format on the wire. A non-zero Seq asks the
// peer to answer with an ack carrying the same Seq. Data carries opaque
// binary payloads (encoded entities), Payload carries JSON ones.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Data    []byte          `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Body is what callers hand to Emit: either raw bytes or a JSON-encodable value.
type Body struct {
	Data    []byte
	Payload any
}

func Bytes(data []byte) Body { return Body{Data: data} }

func JSON(v any) Body { return Body{Payload: v} }

// RemovePayload is the body of remove_entity.
type RemovePayload struct {
	ID uint64 `json:"id"`
}

// MovePayload is the body of action_move.
type MovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CatchPayload is the body of action_catch.
type CatchPayload struct {
	Spot uint64 `json:"spot"`
}

// JSONCodec turns envelopes into text frames and back.
type JSONCodec struct{}

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(ErrSerializationFailed, err.Error())
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrDeserializationFailed, err.Error())
	}
	if env.Type == "" {
		return nil, ErrInvalidMessage
	}
	return &env, nil
}

func newEnvelope(event string, seq uint64, body Body) (*Envelope, error) {
	env := &Envelope{Type: event, Seq: seq, Data: body.Data}
	if body.Payload != nil {
		raw, err := json.Marshal(body.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", event)
		}
		env.Payload = raw
	}
	return env, nil
}
