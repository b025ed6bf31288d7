package collection

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/location"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/reduce"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/tree"
)

// reduceID packs a collection's identity and a caller-chosen tag into the
// uint64 key internal/reduce keys its in-flight state by, so two concurrent
// reductions over the same collection (e.g. a sum and a max) don't collide.
func reduceID(collID uint64, tag uint64) uint64 {
	return collID<<32 | (tag & 0xFFFFFFFF)
}

// ElementHandler is invoked on the node currently owning an element, with
// that element's own instance, the message bytes, and the sending node.
type ElementHandler func(elem any, msg []byte, from rt.NodeType)

// MapFunc assigns an index its owning node. Every node evaluates it for
// every index at construction and instantiates the subset that maps to
// itself. Because it is required to be deterministic and the same on
// every node, any node can also compute an as-yet-unseen index's home
// without a network round trip (internal/collection/mapping provides
// BlockMap and RoundRobinMap).
type MapFunc func(idx Index, r Range, numNodes int) rt.NodeType

type entry struct {
	idx        Index
	elem       any
	migratable bool
}

// Coll is one constructed collection: its range, map function, the live
// local entries, and the handlers registered against it.
type Coll struct {
	id       uint64
	rng      Range
	numNodes int
	mapFn    MapFunc
	group    handler.GroupID

	mu       sync.RWMutex
	entries  map[int64]*entry
	handlers map[handler.ID]ElementHandler
}

// Manager is the per-node collection manager.
type Manager struct {
	ctx *rt.Context
	reg *handler.Registry
	eng *messaging.Engine
	loc *location.Manager
	red *reduce.Manager

	mu         sync.RWMutex
	colls      map[uint64]*Coll
	nextID     uint64
	rebuilders map[uint64]func([]byte) any
	loads      map[uint64]*loadStats

	hBroadcast handler.ID
	hMigrateIn handler.ID
}

// New constructs a collection manager and wires itself as loc's Deliverer
// (collections are the only routable-entity owner in this repo), sharing red
// for Reduce.
func New(ctx *rt.Context, reg *handler.Registry, eng *messaging.Engine, loc *location.Manager, red *reduce.Manager) *Manager {
	m := &Manager{
		ctx:        ctx,
		reg:        reg,
		eng:        eng,
		loc:        loc,
		red:        red,
		colls:      make(map[uint64]*Coll),
		rebuilders: make(map[uint64]func([]byte) any),
		loads:      make(map[uint64]*loadStats),
	}
	loc.SetDeliverer(m)
	m.hBroadcast = reg.Register(handler.KindCollection, "collection.broadcast", 0, false, false, false, m.onBroadcast)
	m.hMigrateIn = reg.Register(handler.KindCollection, "collection.migrateIn", 0, false, false, false, m.onMigrateIn)
	return m
}

const collBits = 13

func proxyIdentifier(collID uint64, lin int64) uint64 {
	return (collID << 32) | (uint64(lin) & 0xFFFFFFFF)
}

func (c *Coll) proxyID(home rt.NodeType, lin int64) location.ProxyID {
	return location.Make(true, true, home, proxyIdentifier(c.id, lin))
}

// Construct performs a collective construction: every node evaluates mapFn
// for every index in r and instantiates the subset that maps to itself.
// newElem is called once per locally-owned index to build that index's
// element instance.
func (m *Manager) Construct(r Range, mapFn MapFunc, newElem func(Index) any) *Coll {
	collID := atomic.AddUint64(&m.nextID, 1) - 1
	if collID >= uint64(1)<<collBits {
		panic("vtrt/collection: collection identifier space exhausted")
	}

	c := &Coll{
		id:       collID,
		rng:      r,
		numNodes: m.ctx.NumNodes(),
		mapFn:    mapFn,
		group:    handler.GroupID(collID + 1),
		entries:  make(map[int64]*entry),
		handlers: make(map[handler.ID]ElementHandler),
	}
	m.eng.RegisterGroup(c.group, tree.Default(m.ctx.This(), m.ctx.NumNodes()))

	m.mu.Lock()
	m.colls[collID] = c
	m.mu.Unlock()

	size := r.Size()
	this := m.ctx.This()
	for lin := int64(0); lin < size; lin++ {
		idx := DelinearizeColMajor(lin, r)
		if mapFn(idx, r, m.ctx.NumNodes()) != this {
			continue
		}
		c.mu.Lock()
		c.entries[lin] = &entry{idx: idx, elem: newElem(idx), migratable: true}
		c.mu.Unlock()
		m.loc.Register(c.proxyID(this, lin), this)
	}
	return c
}

// ListEntry is one (index, element) pair a node contributes to a
// non-uniform construction.
type ListEntry struct {
	Idx  Index
	Elem any
}

// ConstructFromList performs a non-uniform construction: instead of every
// node evaluating the same map function, each node directly hands over the
// indices it already knows it owns. A caller with, say, a pre-partitioned
// mesh already knows which elements are local and has no need to re-derive
// ownership from a MapFunc. The resulting Coll still carries mapFn so
// later callers (Send for a not-yet-seen index, location resolution) have
// a deterministic fallback; mapFn must agree with every node's own list
// for the indices it lists, or two nodes could claim the same index.
func (m *Manager) ConstructFromList(r Range, mapFn MapFunc, local []ListEntry) *Coll {
	collID := atomic.AddUint64(&m.nextID, 1) - 1
	if collID >= uint64(1)<<collBits {
		panic("vtrt/collection: collection identifier space exhausted")
	}

	c := &Coll{
		id:       collID,
		rng:      r,
		numNodes: m.ctx.NumNodes(),
		mapFn:    mapFn,
		group:    handler.GroupID(collID + 1),
		entries:  make(map[int64]*entry),
		handlers: make(map[handler.ID]ElementHandler),
	}
	m.eng.RegisterGroup(c.group, tree.Default(m.ctx.This(), m.ctx.NumNodes()))

	m.mu.Lock()
	m.colls[collID] = c
	m.mu.Unlock()

	this := m.ctx.This()
	for _, le := range local {
		lin := LinearizeColMajor(le.Idx, r)
		c.mu.Lock()
		c.entries[lin] = &entry{idx: le.Idx, elem: le.Elem, migratable: true}
		c.mu.Unlock()
		m.loc.Register(c.proxyID(this, lin), this)
	}
	return c
}

// Builder accumulates this node's own (index, element) pairs across
// multiple calls before finalizing a collection. Each Insert call only
// ever declares an index this node itself will own, the same constraint
// ConstructFromList's local slice already carries, so Wait is exactly
// ConstructFromList with the accumulated list; the builder exists for
// callers that discover their owned indices incrementally (e.g. walking a
// partitioned mesh) rather than having the whole list in hand up front.
type Builder struct {
	m   *Manager
	r   Range
	mu  sync.Mutex
	has []ListEntry
}

// NewBuilder starts a fluent non-uniform construction over r.
func (m *Manager) NewBuilder(r Range) *Builder {
	return &Builder{m: m, r: r}
}

// Insert queues one (index, element) pair this node owns. Safe to call
// from multiple goroutines while still accumulating; nothing is
// constructed until Wait.
func (b *Builder) Insert(idx Index, elem any) *Builder {
	b.mu.Lock()
	b.has = append(b.has, ListEntry{Idx: idx, Elem: elem})
	b.mu.Unlock()
	return b
}

// Wait seals the accumulated list and performs the actual construction,
// equivalent to handing the same list to ConstructFromList directly.
func (b *Builder) Wait(mapFn MapFunc) *Coll {
	b.mu.Lock()
	local := append([]ListEntry(nil), b.has...)
	b.mu.Unlock()
	return b.m.ConstructFromList(b.r, mapFn, local)
}

// RegisterHandler mints a collection-member handler ID bound to fn and
// usable with Send/Broadcast against c.
// The registry's own thunk is a no-op: collection dispatch is driven by
// location.Deliverer (DeliverLocal/onBroadcast below), which looks up fn
// from c.handlers directly so it can pass the element pointer the plain
// handler.Registry.Dispatch signature has no room for.
func (m *Manager) RegisterHandler(c *Coll, name string, fn ElementHandler) handler.ID {
	h := m.reg.Register(handler.KindCollectionMember, name, uint32(c.id), false, false, false, func([]byte, rt.NodeType) {})
	c.mu.Lock()
	c.handlers[h] = fn
	c.mu.Unlock()
	return h
}

func encodeMember(h handler.ID, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h))
	copy(buf[4:], payload)
	return buf
}

func decodeMember(buf []byte) (handler.ID, []byte) {
	return handler.ID(binary.LittleEndian.Uint32(buf[0:4])), buf[4:]
}

// Send composes a collection-message for idx and routes it through the
// location manager to idx's current owner.
func (m *Manager) Send(c *Coll, idx Index, h handler.ID, payload []byte) {
	lin := LinearizeColMajor(idx, c.rng)
	wrapped := encodeMember(h, payload)

	c.mu.RLock()
	_, local := c.entries[lin]
	c.mu.RUnlock()
	if local {
		m.DeliverLocal(c.proxyID(m.ctx.This(), lin), wrapped, m.ctx.This())
		return
	}

	home := c.mapFn(DelinearizeColMajor(lin, c.rng), c.rng, c.numNodes)
	id := c.proxyID(home, lin)
	m.loc.Route(id, wrapped)
}

// HasLocal implements location.Deliverer.
func (m *Manager) HasLocal(id location.ProxyID) bool {
	collID := id.Identifier() >> 32
	lin := int64(id.Identifier() & 0xFFFFFFFF)
	m.mu.RLock()
	c, ok := m.colls[collID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.RLock()
	_, has := c.entries[lin]
	c.mu.RUnlock()
	return has
}

// DeliverLocal implements location.Deliverer: unwrap the member handler ID,
// find the local element, and invoke its registered ElementHandler.
func (m *Manager) DeliverLocal(id location.ProxyID, payload []byte, from rt.NodeType) {
	collID := id.Identifier() >> 32
	lin := int64(id.Identifier() & 0xFFFFFFFF)
	h, inner := decodeMember(payload)

	m.mu.RLock()
	c, ok := m.colls[collID]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/collection: delivery for unknown collection %d", collID))
	}
	c.mu.RLock()
	ent, hasEnt := c.entries[lin]
	fn, hasFn := c.handlers[h]
	c.mu.RUnlock()
	if !hasEnt || !hasFn {
		panic("vtrt/collection: delivery for unknown element or handler")
	}
	fn(ent.elem, inner, from)
}

// BufferInTransit implements location.Deliverer for a message that chased
// a migrating element and lost the race. It re-resolves and re-routes
// immediately rather than holding a staging buffer, which is observably
// equivalent as long as the location-cache update that triggered the miss
// has already landed -- guaranteed here because Migrate's home
// notification is itself ordered after the state transfer it follows.
func (m *Manager) BufferInTransit(id location.ProxyID, payload []byte, from rt.NodeType) {
	m.loc.Route(id, payload)
}

// Broadcast delivers payload to every live element of c exactly once:
// fanned out over the node spanning tree, then at each node, every
// locally-owned element is invoked.
func (m *Manager) Broadcast(c *Coll, h handler.ID, payload []byte) {
	wrapped := append(encodeCollID(c.id), encodeMember(h, payload)...)
	m.eng.Broadcast(m.hBroadcast, wrapped)
	// The messaging layer's broadcast excludes the sender, but a
	// collection broadcast must still reach elements the sending node
	// itself owns.
	m.dispatchBroadcastLocal(c.id, h, payload, m.ctx.This())
}

func encodeCollID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

func (m *Manager) onBroadcast(msg []byte, from rt.NodeType) {
	collID := binary.LittleEndian.Uint64(msg[0:8])
	h, inner := decodeMember(msg[8:])
	m.dispatchBroadcastLocal(collID, h, inner, from)
}

func (m *Manager) dispatchBroadcastLocal(collID uint64, h handler.ID, payload []byte, from rt.NodeType) {
	m.mu.RLock()
	c, ok := m.colls[collID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.RLock()
	fn, hasFn := c.handlers[h]
	var elems []any
	if hasFn {
		for _, ent := range c.entries {
			elems = append(elems, ent.elem)
		}
	}
	c.mu.RUnlock()
	if !hasFn {
		return
	}
	for _, elem := range elems {
		fn(elem, payload, from)
	}
}

// Reduce folds extract(elem) over every locally-owned element of c, then
// contributes the local partial result into the collection's group-scoped
// tree reduction. zero seeds the fold on a node that
// owns no local elements of c, so every node can still contribute exactly
// once regardless of how mapFn happened to distribute c's indices. tag
// distinguishes concurrent reductions over the same collection (a sum and a
// max in flight at once, say). target selects which node's onDone fires
// with the final combined value (reduce.NoTarget defaults to the group's
// tree root); every node must pass the same target.
func (m *Manager) Reduce(c *Coll, tag uint64, extract func(elem any) any, zero any, combine reduce.Combine, target rt.NodeType, onDone func(any)) {
	c.mu.RLock()
	local := zero
	first := true
	for _, ent := range c.entries {
		v := extract(ent.elem)
		if first {
			local = v
			first = false
		} else {
			local = combine(local, v)
		}
	}
	c.mu.RUnlock()
	m.red.Contribute(c.group, reduceID(c.id, tag), local, combine, target, onDone)
}
