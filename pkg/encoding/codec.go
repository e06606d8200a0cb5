package encoding

import (
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec turns open-ended entity records into bytes and back.
type Codec interface {
	Encode(fields map[string]any) ([]byte, error)
	Decode(data []byte) (map[string]any, error)
}

var (
	_ Codec = ProtoCodec{}
	_ Codec = (*ZstdCodec)(nil)
)

// ProtoCodec encodes records as a google.protobuf.Struct. Numbers come back
// as float64; output is deterministic so equal records hash equally.
type ProtoCodec struct{}

var marshalOptions = proto.MarshalOptions{Deterministic: true}

func (ProtoCodec) Encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(normalize(fields))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build struct")
	}
	data, err := marshalOptions.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal struct")
	}
	return data, nil
}

func (ProtoCodec) Decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal struct")
	}
	return s.AsMap(), nil
}

// Compressor applies zstd to encoded payloads. Encoder and decoder are safe
// for concurrent EncodeAll/DecodeAll use, so one instance is shared.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressor() (*Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}
	return &Compressor{encoder: encoder, decoder: decoder}, nil
}

func (c *Compressor) Compress(raw []byte) []byte {
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress")
	}
	return raw, nil
}

// ZstdCodec wraps another codec with compression.
type ZstdCodec struct {
	inner      Codec
	compressor *Compressor
}

func NewZstdCodec(inner Codec, compressor *Compressor) *ZstdCodec {
	return &ZstdCodec{inner: inner, compressor: compressor}
}

// Inner is the wrapped codec.
func (z *ZstdCodec) Inner() Codec { return z.inner }

// Compress finishes a record already encoded with Inner, for callers that
// also need the uncompressed bytes.
func (z *ZstdCodec) Compress(raw []byte) []byte {
	return z.compressor.Compress(raw)
}

func (z *ZstdCodec) Encode(fields map[string]any) ([]byte, error) {
	raw, err := z.inner.Encode(fields)
	if err != nil {
		return nil, err
	}
	return z.Compress(raw), nil
}

func (z *ZstdCodec) Decode(data []byte) (map[string]any, error) {
	raw, err := z.compressor.Decompress(data)
	if err != nil {
		return nil, err
	}
	return z.inner.Decode(raw)
}

// Hash fingerprints an encoded payload.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// normalize widens number types structpb does not accept.
func normalize(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch n := v.(type) {
		case int8:
			out[k] = int64(n)
		case int16:
			out[k] = int64(n)
		case uint8:
			out[k] = uint64(n)
		case uint16:
			out[k] = uint64(n)
		case map[string]any:
			out[k] = normalize(n)
		default:
			out[k] = v
		}
	}
	return out
}
