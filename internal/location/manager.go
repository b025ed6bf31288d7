package location

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/pkg/wire"
)

// DefaultHopCap bounds forward chasing at 3 * log2(N), used when a caller
// passes hopCap <= 0 to New.
func DefaultHopCap(numNodes int) int {
	n, bits := numNodes, 0
	for n > 1 {
		n >>= 1
		bits++
	}
	if bits < 1 {
		bits = 1
	}
	cap := 3 * bits
	if cap < 3 {
		cap = 3
	}
	return cap
}

// Deliverer is implemented by whichever higher-level manager owns entities
// addressed through this location manager (internal/collection, or a
// virtual-context owner). The location manager never interprets entity
// state itself; it only resolves and delivers.
type Deliverer interface {
	// HasLocal reports whether id's entity currently lives on this node.
	HasLocal(id ProxyID) bool
	// DeliverLocal hands a routed message to the local entity.
	DeliverLocal(id ProxyID, payload []byte, from rt.NodeType)
	// BufferInTransit takes over a message for an entity that has migrated
	// away mid-flight, to be redelivered once the entity lands.
	BufferInTransit(id ProxyID, payload []byte, from rt.NodeType)
}

type pendingLookup struct {
	continuations []func(rt.NodeType)
}

// Manager is the per-node location service.
type Manager struct {
	ctx     *rt.Context
	eng     *messaging.Engine
	hopCap  int
	deliv   Deliverer

	mu      sync.Mutex
	home    map[ProxyID]rt.NodeType // authoritative; only meaningful if ctx.This() == id.HomeNode()
	cache   map[ProxyID]rt.NodeType
	pending map[ProxyID]*pendingLookup
	serial  uint64

	hLookupReq   handler.ID
	hLookupReply handler.ID
	hRouted      handler.ID
	hMigrateNote handler.ID
}

// New constructs a location manager and registers its control-plane
// handlers on reg, dispatched through eng. Deliverer may be set later via
// SetDeliverer to break the collection/location initialization cycle.
func New(ctx *rt.Context, reg *handler.Registry, eng *messaging.Engine, hopCap int) *Manager {
	if hopCap <= 0 {
		hopCap = DefaultHopCap(ctx.NumNodes())
	}
	m := &Manager{
		ctx:     ctx,
		eng:     eng,
		hopCap:  hopCap,
		home:    make(map[ProxyID]rt.NodeType),
		cache:   make(map[ProxyID]rt.NodeType),
		pending: make(map[ProxyID]*pendingLookup),
	}
	m.hLookupReq = reg.Register(handler.KindPlain, "location.lookupReq", 0, false, false, false, m.onLookupReq)
	m.hLookupReply = reg.Register(handler.KindPlain, "location.lookupReply", 0, false, false, false, m.onLookupReply)
	m.hRouted = reg.Register(handler.KindPlain, "location.routed", 0, false, false, false, m.onRouted)
	m.hMigrateNote = reg.Register(handler.KindPlain, "location.migrateNotify", 0, false, false, false, m.onMigrateNotify)
	return m
}

// SetDeliverer wires the owner of entity state in after construction.
func (m *Manager) SetDeliverer(d Deliverer) { m.deliv = d }

// Register installs the authoritative home record for a freshly created
// entity; must be called on id.HomeNode().
func (m *Manager) Register(id ProxyID, owner rt.NodeType) {
	if m.ctx.This() != id.HomeNode() {
		panic("vtrt/location: Register called on a non-home node")
	}
	m.mu.Lock()
	m.home[id] = owner
	m.cache[id] = owner
	m.mu.Unlock()
}

// AdoptLocal records that id's entity now lives on this node, without this
// node being the home -- the case after accepting a migrated-in entity.
// Only the home's authoritative record is updated via the migrateNotify
// that Migrate sends from the source node; this just lets a subsequent forwarded lookup
// resolve locally instead of panicking as "unknown entity".
func (m *Manager) AdoptLocal(id ProxyID) {
	m.mu.Lock()
	m.cache[id] = m.ctx.This()
	m.mu.Unlock()
}

// Deregister removes the authoritative record once an entity is locally
// destroyed.
func (m *Manager) Deregister(id ProxyID) {
	m.mu.Lock()
	delete(m.home, id)
	delete(m.cache, id)
	m.mu.Unlock()
}

type lookupReqMsg struct {
	Requester rt.NodeType
	ID        ProxyID
	Serial    uint64
	Hops      int
}

type lookupReplyMsg struct {
	ID     ProxyID
	Owner  rt.NodeType
	Serial uint64
}

type routedMsg struct {
	ID      ProxyID
	From    rt.NodeType
	Payload []byte
}

type migrateNoteMsg struct {
	ID      ProxyID
	NewNode rt.NodeType
}

// Resolve invokes continuation(node) with id's current owning node,
// synchronously if cached, otherwise after a round trip to the home node.
func (m *Manager) Resolve(id ProxyID, continuation func(rt.NodeType)) {
	m.mu.Lock()
	if n, ok := m.cache[id]; ok {
		m.mu.Unlock()
		continuation(n)
		return
	}
	p, exists := m.pending[id]
	if exists {
		p.continuations = append(p.continuations, continuation)
		m.mu.Unlock()
		return
	}
	m.pending[id] = &pendingLookup{continuations: []func(rt.NodeType){continuation}}
	serial := atomic.AddUint64(&m.serial, 1)
	m.mu.Unlock()

	m.sendLookup(id.HomeNode(), lookupReqMsg{Requester: m.ctx.This(), ID: id, Serial: serial, Hops: 0})
}

func (m *Manager) sendLookup(to rt.NodeType, req lookupReqMsg) {
	payload, err := wire.Marshal(req)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(to, m.hLookupReq, payload); err != nil {
		panic(fmt.Sprintf("vtrt/location: lookup send: %v", err))
	}
}

// onLookupReq runs on the node that currently owns (or, mid-migration,
// most recently owned) id.
func (m *Manager) onLookupReq(msg []byte, from rt.NodeType) {
	var req lookupReqMsg
	if err := wire.Unmarshal(msg, &req); err != nil {
		panic(err)
	}

	req.Hops++
	if req.Hops > m.hopCap {
		panic(fmt.Sprintf("vtrt/location: hop cap (%d) exceeded resolving %#x, pathological forward chase", m.hopCap, uint64(req.ID)))
	}

	m.mu.Lock()
	owner, known := m.cache[req.ID]
	if !known {
		owner, known = m.home[req.ID]
	}
	m.mu.Unlock()

	if !known {
		// This node is the recorded owner but has since forgotten. Should
		// not happen under the ownership invariants; fail loudly rather
		// than silently drop a lookup.
		panic(fmt.Sprintf("vtrt/location: lookup for unknown entity %#x arrived at %s", uint64(req.ID), m.ctx.This()))
	}

	if owner != m.ctx.This() {
		// We've moved on; forward the request to the node we last knew
		// about.
		m.sendLookup(owner, req)
		return
	}

	reply := lookupReplyMsg{ID: req.ID, Owner: m.ctx.This(), Serial: req.Serial}
	payload, err := wire.Marshal(reply)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(req.Requester, m.hLookupReply, payload); err != nil {
		panic(err)
	}
}

// onLookupReply completes the requester's pending Resolve calls for id.
func (m *Manager) onLookupReply(msg []byte, from rt.NodeType) {
	var reply lookupReplyMsg
	if err := wire.Unmarshal(msg, &reply); err != nil {
		panic(err)
	}

	m.mu.Lock()
	m.cache[reply.ID] = reply.Owner
	p, ok := m.pending[reply.ID]
	delete(m.pending, reply.ID)
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, cont := range p.continuations {
		cont(reply.Owner)
	}
}

// Route resolves id and delivers payload to its current owner: on arrival,
// if the entity is still present, dispatch directly; if migrated in
// transit, hand off to the Deliverer and re-resolve.
func (m *Manager) Route(id ProxyID, payload []byte) {
	m.Resolve(id, func(owner rt.NodeType) {
		rm := routedMsg{ID: id, From: m.ctx.This(), Payload: payload}
		out, err := wire.Marshal(rm)
		if err != nil {
			panic(err)
		}
		if _, err := m.eng.Send(owner, m.hRouted, out); err != nil {
			panic(err)
		}
	})
}

func (m *Manager) onRouted(msg []byte, from rt.NodeType) {
	var rm routedMsg
	if err := wire.Unmarshal(msg, &rm); err != nil {
		panic(err)
	}
	if m.deliv != nil && m.deliv.HasLocal(rm.ID) {
		m.deliv.DeliverLocal(rm.ID, rm.Payload, rm.From)
		return
	}

	// Entity migrated away between the requester's cache read and this
	// frame's arrival. The Deliverer takes the message over and re-routes
	// it against this node's forward pointer; with no Deliverer, drop the
	// stale cache entry and re-resolve through the home node.
	if m.deliv != nil {
		m.deliv.BufferInTransit(rm.ID, rm.Payload, rm.From)
		return
	}
	m.mu.Lock()
	delete(m.cache, rm.ID)
	m.mu.Unlock()
	m.Route(rm.ID, rm.Payload)
}

// Migrate transfers ownership of id from this node to newNode. The caller
// (internal/collection) is responsible for actually serializing and
// shipping entity state before calling Migrate; this only updates location
// bookkeeping: replace the local record with a forward pointer and notify
// the home.
func (m *Manager) Migrate(id ProxyID, newNode rt.NodeType) {
	m.mu.Lock()
	m.cache[id] = newNode
	m.mu.Unlock()

	note := migrateNoteMsg{ID: id, NewNode: newNode}
	payload, err := wire.Marshal(note)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(id.HomeNode(), m.hMigrateNote, payload); err != nil {
		panic(err)
	}
}

// onMigrateNotify updates the home node's authoritative record.
func (m *Manager) onMigrateNotify(msg []byte, from rt.NodeType) {
	var note migrateNoteMsg
	if err := wire.Unmarshal(msg, &note); err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.home[note.ID] = note.NewNode
	m.cache[note.ID] = note.NewNode
	m.mu.Unlock()
}
