// Package wire is the serialization layer: a message type supplies a
// Size/Pack/Unpack triple, declares itself trivially copyable, or falls
// back to the default msgpack codec.
package wire

import "github.com/vmihailenco/msgpack/v5"

// TriviallyCopyable marks a message type as a fixed-size value type with
// no pointers, maps, or slices. Pack and Unpack do not consult it: a
// marked type that implements neither Packer nor Unpacker goes through
// the msgpack codec like any other.
type TriviallyCopyable interface {
	// TriviallyCopyableMarker is never called; its presence on a type is
	// the declaration itself.
	TriviallyCopyableMarker()
}

// Packer is the user-message contract's pack half.
type Packer interface {
	Pack() ([]byte, error)
}

// Unpacker is the user-message contract's unpack half. Implemented on a
// pointer receiver so Unpack can populate the value in place.
type Unpacker interface {
	Unpack([]byte) error
}

// Sized types can report their packed size ahead of time, letting the
// message engine choose SendSized over Send without packing twice.
type Sized interface {
	Size() int
}

// Marshal packs v into bytes using the default msgpack codec, for message
// types that implement neither TriviallyCopyable nor Packer.
func Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal is Marshal's inverse.
func Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Pack dispatches to v's own Pack method if it implements Packer, else
// falls back to the default msgpack codec.
func Pack(v any) ([]byte, error) {
	if p, ok := v.(Packer); ok {
		return p.Pack()
	}
	return Marshal(v)
}

// Unpack dispatches to v's own Unpack method if it implements Unpacker,
// else falls back to the default msgpack codec.
func Unpack(data []byte, v any) error {
	if u, ok := v.(Unpacker); ok {
		return u.Unpack(data)
	}
	return Unmarshal(data, v)
}

// ToInt64 normalizes the integer shapes Unmarshal produces when decoding
// into an any-typed value (the codec picks the smallest type that fits),
// so numeric reducers can fold local and wire-decoded contributions
// uniformly. Non-integer values normalize to 0.
func ToInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
