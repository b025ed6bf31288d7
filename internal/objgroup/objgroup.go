// Package objgroup implements the object-group manager: a user object
// constructed exactly once per node, addressed by node number alone (no
// index, no home lookup, no migration -- the node component of the proxy
// is the address). Its proxy still exposes send, broadcast and reduce, so
// this package is a deliberately thin sibling of internal/collection built
// on the same messaging.Engine and reduce.Manager.
package objgroup

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/reduce"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/tree"
	"github.com/dreamware/vtrt/pkg/wire"
)

// MemberHandler is invoked on the node it targets, with this node's own
// object instance, the message bytes, and the sending node.
type MemberHandler func(obj any, msg []byte, from rt.NodeType)

// Group is one collectively constructed object group: the same id and tree
// on every node, but a node-local object instance.
type Group struct {
	id    uint64
	obj   any
	group handler.GroupID

	mu       sync.RWMutex
	handlers map[handler.ID]MemberHandler
}

// Manager is the per-node object-group manager.
type Manager struct {
	ctx *rt.Context
	reg *handler.Registry
	eng *messaging.Engine
	red *reduce.Manager

	mu     sync.RWMutex
	groups map[uint64]*Group
	nextID uint64

	hDispatch  handler.ID
	hBroadcast handler.ID
}

// New constructs an object-group manager, sharing red for Reduce.
func New(ctx *rt.Context, reg *handler.Registry, eng *messaging.Engine, red *reduce.Manager) *Manager {
	m := &Manager{
		ctx:    ctx,
		reg:    reg,
		eng:    eng,
		red:    red,
		groups: make(map[uint64]*Group),
	}
	m.hDispatch = reg.Register(handler.KindObjGroup, "objgroup.dispatch", 0, false, false, false, m.onDispatch)
	m.hBroadcast = reg.Register(handler.KindObjGroup, "objgroup.broadcast", 0, false, false, false, m.onBroadcast)
	return m
}

type wireMsg struct {
	Group   uint64
	Handler uint32
	Payload []byte
}

// Construct performs a collective construction: every node invokes newObj
// independently and the resulting instances all share the same group
// identity, so a proxy minted on one node addresses the right member on
// every other.
func (m *Manager) Construct(newObj func() any) *Group {
	id := atomic.AddUint64(&m.nextID, 1) - 1
	g := &Group{
		id:       id,
		obj:      newObj(),
		group:    handler.GroupID(id + 1<<40), // offset clear of collection group IDs sharing the same engine
		handlers: make(map[handler.ID]MemberHandler),
	}
	m.eng.RegisterGroup(g.group, tree.Default(m.ctx.This(), m.ctx.NumNodes()))

	m.mu.Lock()
	m.groups[id] = g
	m.mu.Unlock()
	return g
}

// RegisterHandler mints a member handler ID bound to fn and usable with
// Send/Broadcast against g.
func (m *Manager) RegisterHandler(g *Group, name string, fn MemberHandler) handler.ID {
	h := m.reg.Register(handler.KindObjGroup, name, uint32(g.id), false, false, false, func([]byte, rt.NodeType) {})
	g.mu.Lock()
	g.handlers[h] = fn
	g.mu.Unlock()
	return h
}

// Send dispatches payload to g's instance on target.
func (m *Manager) Send(g *Group, target rt.NodeType, h handler.ID, payload []byte) error {
	buf, err := wire.Marshal(wireMsg{Group: g.id, Handler: uint32(h), Payload: payload})
	if err != nil {
		return err
	}
	if target == m.ctx.This() {
		m.invoke(g, h, payload, m.ctx.This())
		return nil
	}
	_, err = m.eng.Send(target, m.hDispatch, buf)
	return err
}

func (m *Manager) onDispatch(msg []byte, from rt.NodeType) {
	var wm wireMsg
	if err := wire.Unmarshal(msg, &wm); err != nil {
		panic(err)
	}
	m.mu.RLock()
	g, ok := m.groups[wm.Group]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/objgroup: dispatch for unknown group %d", wm.Group))
	}
	m.invoke(g, handler.ID(wm.Handler), wm.Payload, from)
}

func (m *Manager) invoke(g *Group, h handler.ID, payload []byte, from rt.NodeType) {
	g.mu.RLock()
	fn, ok := g.handlers[h]
	obj := g.obj
	g.mu.RUnlock()
	if !ok {
		panic("vtrt/objgroup: dispatch for unregistered member handler")
	}
	fn(obj, payload, from)
}

// Broadcast delivers payload to every node's instance of g exactly once.
// The sender's own instance is invoked directly since
// messaging.Engine.Broadcast excludes the sender.
func (m *Manager) Broadcast(g *Group, h handler.ID, payload []byte) {
	buf, err := wire.Marshal(wireMsg{Group: g.id, Handler: uint32(h), Payload: payload})
	if err != nil {
		panic(err)
	}
	m.eng.Broadcast(m.hBroadcast, buf)
	m.invoke(g, h, payload, m.ctx.This())
}

func (m *Manager) onBroadcast(msg []byte, from rt.NodeType) {
	var wm wireMsg
	if err := wire.Unmarshal(msg, &wm); err != nil {
		panic(err)
	}
	m.mu.RLock()
	g, ok := m.groups[wm.Group]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.invoke(g, handler.ID(wm.Handler), wm.Payload, from)
}

// Reduce contributes local into g's group-scoped tree reduction, combined
// with every other node's contribution for the same tag.
// target selects which node's onDone fires with the combined result
// (reduce.NoTarget defaults to the group's tree root); every node must
// pass the same target.
func (m *Manager) Reduce(g *Group, tag uint64, local any, combine reduce.Combine, target rt.NodeType, onDone func(any)) {
	m.red.Contribute(g.group, g.id<<32|(tag&0xFFFFFFFF), local, combine, target, onDone)
}
