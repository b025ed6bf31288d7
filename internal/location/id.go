// Package location resolves an opaque entity ID to its current owning
// node, forwards through migration, and re-routes messages to entities in
// transit. Each ID encodes a home node holding the authoritative record;
// every other node may cache.
package location

import "github.com/dreamware/vtrt/internal/rt"

// ProxyID is a 64-bit virtual-entity proxy packing
// {is-collection?, is-migratable?, is-remote?, home-node, identifier}.
type ProxyID uint64

const (
	collectionBits = 1
	migratableBits = 1
	remoteBits     = 1
	homeBits       = 16
	identBits      = 64 - collectionBits - migratableBits - remoteBits - homeBits

	collectionShift = 0
	migratableShift = collectionShift + collectionBits
	remoteShift     = migratableShift + migratableBits
	homeShift       = remoteShift + remoteBits
	identShift      = homeShift + homeBits
)

func mask(bits uint) uint64 { return (uint64(1) << bits) - 1 }

func getField(p ProxyID, shift, bits uint) uint64 { return (uint64(p) >> shift) & mask(bits) }

func setField(p ProxyID, shift, bits uint, v uint64) ProxyID {
	cleared := uint64(p) &^ (mask(bits) << shift)
	return ProxyID(cleared | ((v & mask(bits)) << shift))
}

func setFlag(p ProxyID, shift uint, v bool) ProxyID {
	if v {
		return setField(p, shift, 1, 1)
	}
	return setField(p, shift, 1, 0)
}

// MaxIdentifier bounds the identifier field before resource exhaustion.
const MaxIdentifier = uint64(1)<<identBits - 1

// Make packs a new proxy ID. The bits determine the routing rule: once
// assigned, only HomeNode may later change, via a location update, never
// by message receipt.
func Make(isCollection, isMigratable bool, home rt.NodeType, identifier uint64) ProxyID {
	var p ProxyID
	p = setFlag(p, collectionShift, isCollection)
	p = setFlag(p, migratableShift, isMigratable)
	p = setField(p, homeShift, homeBits, uint64(home))
	p = setField(p, identShift, identBits, identifier)
	return p
}

// IsCollection reports whether this proxy names a collection element.
func (p ProxyID) IsCollection() bool { return getField(p, collectionShift, collectionBits) != 0 }

// IsMigratable reports whether the entity may move between nodes.
func (p ProxyID) IsMigratable() bool { return getField(p, migratableShift, migratableBits) != 0 }

// IsRemote is set on a copy handed to code that knows it is not addressing
// the local node, used by callers to skip a redundant cache check.
func (p ProxyID) IsRemote() bool { return getField(p, remoteShift, remoteBits) != 0 }

// WithRemote returns a copy of p with the is-remote bit set.
func (p ProxyID) WithRemote() ProxyID { return setFlag(p, remoteShift, true) }

// HomeNode returns the node holding this entity's authoritative location
// record.
func (p ProxyID) HomeNode() rt.NodeType { return rt.NodeType(getField(p, homeShift, homeBits)) }

// Identifier returns the entity's identifier bits, unique within its home
// node's namespace.
func (p ProxyID) Identifier() uint64 { return getField(p, identShift, identBits) }

// setHome returns a copy of p with its home-node bits replaced, used only
// internally by Manager.Migrate's home-record update -- never by a message
// receipt path.
func (p ProxyID) setHome(home rt.NodeType) ProxyID {
	return setField(p, homeShift, homeBits, uint64(home))
}
