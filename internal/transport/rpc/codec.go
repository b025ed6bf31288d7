package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC content-subtype. vtrt never runs
// protoc: frames are raw bytes end to end, already framed one layer up,
// so the codec here is a pass-through rather than a protobuf marshaler.
const codecName = "vtrtraw"

// rawFrame is the only message type this transport ever sends: an opaque,
// already-serialized byte slice produced by internal/messaging.
type rawFrame []byte

// rawCodec implements encoding.Codec by treating rawFrame as already being
// its own wire representation: no protobuf, no reflection.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case *rawFrame:
		return []byte(*f), nil
	case rawFrame:
		return []byte(f), nil
	default:
		return nil, fmt.Errorf("vtrt/transport/rpc: cannot marshal %T, want rawFrame", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("vtrt/transport/rpc: cannot unmarshal into %T, want *rawFrame", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
