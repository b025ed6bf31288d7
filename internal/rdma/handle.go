// Package rdma implements the one-sided memory access manager: handle
// registration, associated get/put callbacks, typed-transfer channels, and
// the request/reply messages that implement one-sided semantics over the
// active-message engine. There is no real RDMA hardware underneath;
// "one-sided" here means the caller never runs code on the remote node
// directly, only via a registered callback.
package rdma

import "github.com/dreamware/vtrt/internal/rt"

// Handle is a 64-bit token identifying a registered memory region, packing
// {is-sized?, is-collective?, is-handler-based?, op-type, home-node,
// identifier}.
type Handle uint64

const (
	sizedBits        = 1
	collectiveBits   = 1
	handlerBasedBits = 1
	opTypeBits       = 4
	homeBits         = 16
	identBits        = 64 - sizedBits - collectiveBits - handlerBasedBits - opTypeBits - homeBits

	sizedShift        = 0
	collectiveShift   = sizedShift + sizedBits
	handlerBasedShift = collectiveShift + collectiveBits
	opTypeShift       = handlerBasedShift + handlerBasedBits
	homeShift         = opTypeShift + opTypeBits
	identShift        = homeShift + homeBits
)

func mask(bits uint) uint64 { return (uint64(1) << bits) - 1 }

func getField(h Handle, shift, bits uint) uint64 { return (uint64(h) >> shift) & mask(bits) }

func setField(h Handle, shift, bits uint, v uint64) Handle {
	cleared := uint64(h) &^ (mask(bits) << shift)
	return Handle(cleared | ((v & mask(bits)) << shift))
}

func setFlag(h Handle, shift uint, v bool) Handle {
	if v {
		return setField(h, shift, 1, 1)
	}
	return setField(h, shift, 1, 0)
}

// OpType occupies the handle's 4 op-type bits. Register and
// RegisterCollective always mint OpNone, and request handling does not
// read it: a get consults the region's get callback and a put its put
// callback whatever the op type.
type OpType uint8

const (
	OpNone OpType = iota
	OpGet
	OpPut
	OpGetPut
)

// MaxIdentifier bounds the identifier field before resource exhaustion.
const MaxIdentifier = uint64(1)<<identBits - 1

// Make packs a new handle.
func Make(isSized, isCollective, isHandlerBased bool, op OpType, home rt.NodeType, identifier uint64) Handle {
	var h Handle
	h = setFlag(h, sizedShift, isSized)
	h = setFlag(h, collectiveShift, isCollective)
	h = setFlag(h, handlerBasedShift, isHandlerBased)
	h = setField(h, opTypeShift, opTypeBits, uint64(op))
	h = setField(h, homeShift, homeBits, uint64(home))
	h = setField(h, identShift, identBits, identifier)
	return h
}

func (h Handle) IsSized() bool        { return getField(h, sizedShift, sizedBits) != 0 }
func (h Handle) IsCollective() bool   { return getField(h, collectiveShift, collectiveBits) != 0 }
func (h Handle) IsHandlerBased() bool { return getField(h, handlerBasedShift, handlerBasedBits) != 0 }
func (h Handle) OpType() OpType       { return OpType(getField(h, opTypeShift, opTypeBits)) }
func (h Handle) HomeNode() rt.NodeType {
	return rt.NodeType(getField(h, homeShift, homeBits))
}
func (h Handle) Identifier() uint64 { return getField(h, identShift, identBits) }

// WithHome returns a copy of h addressing node's slice of a collective
// window instead of h's original home; every node owns its own slice.
// Only meaningful when h.IsCollective().
func (h Handle) WithHome(node rt.NodeType) Handle {
	return setField(h, homeShift, homeBits, uint64(node))
}
