package handler

import "github.com/dreamware/vtrt/internal/rt"

// TypeBits are the envelope type flags.
type TypeBits uint16

const (
	TypePut TypeBits = 1 << iota
	TypePackedPut
	TypePipe
	TypeTerm
	TypeEpoch
	TypeGroup
	TypeBroadcast
)

// Has reports whether all bits in want are set.
func (t TypeBits) Has(want TypeBits) bool { return t&want == want }

// GroupID names a broadcast/reduction group.
type GroupID uint64

// NoGroup is the sentinel "no group scope" value.
const NoGroup GroupID = 0

// Envelope is the fixed-size header prefixing every message.
// It is a plain value type: trivially copyable, same size on every node.
// Fields are exported because Envelope crosses package boundaries
// (messaging, location, collection, reduce, rdma all stamp or read it)
// but never the wire directly; wire framing lives in internal/messaging
// (frame.go).
type Envelope struct {
	Dest    rt.NodeType
	Handler ID
	Type    TypeBits
	RefCnt  uint32
	Epoch   rt.EpochID
	Tag     uint64
	Group   GroupID
	// TraceEvent is an opaque trace-event identifier; 0 means untraced.
	// Carried so the receive path can thread a causal trace id through
	// handler dispatch without a separate out-of-band lookup.
	TraceEvent uint64
}

// New builds a zero-value envelope destined for dest, invoking handler h.
// Epoch is left at rt.NoEpoch; callers stamp it via WithEpoch or let the
// message engine's send path stamp the ambient epoch.
func New(dest rt.NodeType, h ID) Envelope {
	return Envelope{Dest: dest, Handler: h, RefCnt: 1}
}

// WithEpoch returns a copy of e stamped with epoch, only if e carries
// rt.NoEpoch; an already-scoped envelope is never silently re-scoped.
func (e Envelope) WithEpoch(epoch rt.EpochID) Envelope {
	if e.Epoch == rt.NoEpoch {
		e.Epoch = epoch
		e.Type |= TypeEpoch
	}
	return e
}

// WithGroup returns a copy of e scoped to group g.
func (e Envelope) WithGroup(g GroupID) Envelope {
	e.Group = g
	e.Type |= TypeGroup
	return e
}

// IsBroadcast reports whether e is a broadcast/multicast fan-out hop.
func (e Envelope) IsBroadcast() bool { return e.Type.Has(TypeBroadcast) }

// Tracked reports whether e participates in termination detection: every
// message either carries rt.NoEpoch (untracked) or a specific epoch ID.
func (e Envelope) Tracked() bool { return e.Epoch != rt.NoEpoch }
