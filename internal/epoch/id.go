// Package epoch implements the epoch manager and termination detector:
// epoch ID packing, rooted/collective construction, the four-counter wave
// algorithm, Dijkstra-Scholten credit accounting, dependencies/nesting,
// and continuations.
package epoch

import "github.com/dreamware/vtrt/internal/rt"

// ID is re-exported from rt so every package that needs to stamp or compare
// epoch IDs can depend on the leaf rt package instead of this one.
type ID = rt.EpochID

// NoEpoch is the "no causal scope" sentinel; messages carrying it are
// never tracked.
const NoEpoch = rt.NoEpoch

// Category identifies which termination-detection algorithm governs an
// epoch. Rooted epochs normally use Dijkstra-Scholten; collective epochs
// normally use the four-counter wave algorithm, but the bits are stored
// independently of the rooted flag.
type Category uint8

const (
	CategoryFourCounter Category = iota
	CategoryDijkstraScholten
)

const (
	rootedBits   = 1
	categoryBits = 2
	homeBits     = 16
	seqBits      = 64 - rootedBits - categoryBits - homeBits

	rootedShift   = 0
	categoryShift = rootedShift + rootedBits
	homeShift     = categoryShift + categoryBits
	seqShift      = homeShift + homeBits
)

func mask64(bits uint) uint64 { return (uint64(1) << bits) - 1 }

func getField(e ID, shift, bits uint) uint64 {
	return (uint64(e) >> shift) & mask64(bits)
}

func setField(e ID, shift, bits uint, v uint64) ID {
	cleared := uint64(e) &^ (mask64(bits) << shift)
	return ID(cleared | ((v & mask64(bits)) << shift))
}

// MaxSequence bounds a single node's epoch sequence space; overflowing it
// is a resource-exhaustion fatal.
const MaxSequence = uint64(1)<<seqBits - 1

// IsRooted reports whether e was constructed by a single originating node.
func IsRooted(e ID) bool { return getField(e, rootedShift, rootedBits) != 0 }

// CategoryOf returns e's detection-algorithm category bits.
func CategoryOf(e ID) Category { return Category(getField(e, categoryShift, categoryBits)) }

// HomeNode returns the node with sole authority over a rooted epoch's
// termination. Meaningless for collective epochs.
func HomeNode(e ID) rt.NodeType { return rt.NodeType(getField(e, homeShift, homeBits)) }

// Sequence returns the monotonic per-home (rooted) or globally unique
// (collective) sequence number.
func Sequence(e ID) uint64 { return getField(e, seqShift, seqBits) }

func makeID(rooted bool, cat Category, home rt.NodeType, seq uint64) ID {
	var e ID
	if rooted {
		e = setField(e, rootedShift, rootedBits, 1)
	}
	e = setField(e, categoryShift, categoryBits, uint64(cat))
	e = setField(e, homeShift, homeBits, uint64(home))
	e = setField(e, seqShift, seqBits, seq)
	return e
}
