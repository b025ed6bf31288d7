// Package reduce implements spanning-tree reduction: every node folds its
// local contribution together with the values arriving from its children
// in the group's tree, forwards the combined value to its parent, and the
// root delivers the final result to the chosen target.
package reduce

import (
	"strconv"
	"sync"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/tree"
	"github.com/dreamware/vtrt/pkg/wire"
)

// Combine folds b into a and returns the combined value. Must be
// associative and commutative; both operands and the result must
// round-trip through pkg/wire unchanged.
type Combine func(a, b any) any

type key struct {
	group handler.GroupID
	id    uint64
}

// phase tracks a reduction's accumulating/forwarded/delivered lifecycle.
// A state starts in phaseAccumulating whether it was created by a remote
// child's contribution or by the local Contribute call, whichever happens
// first.
type phase int

const (
	phaseAccumulating phase = iota
	phaseForwarded
	phaseDelivered
)

// state accumulates contributions for one (group, id) reduction on this
// node. want is this node's own children-count-plus-one: a node's local
// Contribute call is one contribution, and each of its tree children
// contributes one more. Remote contributions may arrive before this node's
// own Contribute call runs, so combine/onDone start nil and are filled in
// whenever the local call happens; any contribution seen before that is
// buffered in pending and folded in once combine is known.
type state struct {
	mu      sync.Mutex
	want    int
	have    int
	combine Combine
	pending []any
	value   any
	haveVal bool
	phase   phase
	onDone  func(any)
}

// addRemote folds in a value that arrived over the wire, returning the
// combined value (or nil if combine is not yet known) and whether this node
// has now seen every expected contribution.
func (s *state) addRemote(v any) (combined any, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.combine == nil {
		s.pending = append(s.pending, v)
	} else {
		s.foldLocked(v)
	}
	s.have++
	ready = s.have == s.want && s.phase == phaseAccumulating
	if ready {
		s.phase = phaseForwarded
	}
	return s.value, ready
}

// setLocal records this node's own contribution and combine/onDone, then
// drains any buffered remote contributions that arrived first.
func (s *state) setLocal(v any, combine Combine, onDone func(any)) (combined any, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combine = combine
	s.onDone = onDone
	s.foldLocked(v)
	s.have++
	for _, pv := range s.pending {
		s.foldLocked(pv)
	}
	s.pending = nil
	ready = s.have == s.want && s.phase == phaseAccumulating
	if ready {
		s.phase = phaseForwarded
	}
	return s.value, ready
}

func (s *state) foldLocked(v any) {
	if !s.haveVal {
		s.value = v
		s.haveVal = true
		return
	}
	s.value = s.combine(s.value, v)
}

func (s *state) deliver(v any) (onDone func(any), fire bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDelivered {
		return nil, false
	}
	s.phase = phaseDelivered
	return s.onDone, true
}

// Manager is the per-node reduction engine. One Manager instance is shared
// by every collection or caller that performs reductions on a node.
type Manager struct {
	ctx *rt.Context
	eng *messaging.Engine

	mu     sync.Mutex
	states map[key]*state

	hContribute handler.ID
	hResult     handler.ID
}

// New constructs a reduction manager and registers its wire handlers.
func New(ctx *rt.Context, reg *handler.Registry, eng *messaging.Engine) *Manager {
	m := &Manager{
		ctx:    ctx,
		eng:    eng,
		states: make(map[key]*state),
	}
	m.hContribute = reg.Register(handler.KindReduce, "reduce.contribute", 0, false, false, false, m.onContribute)
	m.hResult = reg.Register(handler.KindReduce, "reduce.result", 0, false, false, false, m.onResult)
	return m
}

func (m *Manager) shapeFor(group handler.GroupID) *tree.Shape {
	if shape := m.eng.GroupShape(group); shape != nil {
		return shape
	}
	return tree.Default(m.ctx.This(), m.ctx.NumNodes())
}

func (m *Manager) stateFor(k key, want int) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[k]; ok {
		return st
	}
	st := &state{want: want}
	m.states[k] = st
	return st
}

// NoTarget directs Contribute to deliver the result at the group's tree
// root.
const NoTarget = rt.NodeType(-1)

// Contribute folds local into the reduction identified by (group, id),
// forwarding to the parent once every child has also reported. Once the
// root has combined every contribution, the result is delivered exactly
// once: locally if target is the root (or target is NoTarget), otherwise
// in a single point-to-point message to target; no other node's callback
// runs. Every participating node must call Contribute exactly once per
// (group, id) with the same target; combine and onDone need only be
// supplied by the node that calls it, even though remote contributions
// may arrive here first, and onDone may be nil on every node but target.
func (m *Manager) Contribute(group handler.GroupID, id uint64, local any, combine Combine, target rt.NodeType, onDone func(any)) {
	m.eng.Metrics().IncReduction(strconv.FormatUint(uint64(group), 10))
	shape := m.shapeFor(group)
	st := m.stateFor(key{group, id}, shape.NumChildren()+1)
	value, ready := st.setLocal(local, combine, onDone)
	if ready {
		m.advance(group, id, shape, target, value)
	}
}

func (m *Manager) advance(group handler.GroupID, id uint64, shape *tree.Shape, target rt.NodeType, value any) {
	if !shape.IsRoot() {
		payload, err := wire.Marshal(value)
		if err != nil {
			panic(err)
		}
		msg := contribMsg{Group: uint64(group), ID: id, Target: target, Value: payload}
		buf, err := wire.Marshal(msg)
		if err != nil {
			panic(err)
		}
		if _, err := m.eng.Send(shape.Parent(), m.hContribute, buf); err != nil {
			panic(err)
		}
		return
	}
	m.completeAndDeliver(group, id, target, value)
}

// completeAndDeliver runs at the tree root once every contribution has been
// folded in: it hands the result to target, either by invoking target's own
// onDone directly (target is this node) or by shipping one resultMsg to
// target's onResult handler.
func (m *Manager) completeAndDeliver(group handler.GroupID, id uint64, target rt.NodeType, value any) {
	this := m.ctx.This()
	if target == NoTarget || target == this {
		m.mu.Lock()
		st := m.states[key{group, id}]
		m.mu.Unlock()
		if st != nil {
			if onDone, fire := st.deliver(value); fire && onDone != nil {
				onDone(value)
			}
		}
		return
	}

	payload, err := wire.Marshal(value)
	if err != nil {
		panic(err)
	}
	msg := resultMsg{Group: uint64(group), ID: id, Value: payload}
	buf, err := wire.Marshal(msg)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(target, m.hResult, buf); err != nil {
		panic(err)
	}
}

type contribMsg struct {
	Group  uint64
	ID     uint64
	Target rt.NodeType
	Value  []byte
}

type resultMsg struct {
	Group uint64
	ID    uint64
	Value []byte
}

func (m *Manager) onContribute(payload []byte, _ rt.NodeType) {
	var msg contribMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	var value any
	if err := wire.Unmarshal(msg.Value, &value); err != nil {
		panic(err)
	}
	group := handler.GroupID(msg.Group)
	shape := m.shapeFor(group)

	st := m.stateFor(key{group, msg.ID}, shape.NumChildren()+1)
	combined, ready := st.addRemote(value)
	if ready {
		m.advance(group, msg.ID, shape, msg.Target, combined)
	}
}

func (m *Manager) onResult(payload []byte, _ rt.NodeType) {
	var msg resultMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	var value any
	if err := wire.Unmarshal(msg.Value, &value); err != nil {
		panic(err)
	}
	group := handler.GroupID(msg.Group)

	m.mu.Lock()
	st := m.states[key{group, msg.ID}]
	m.mu.Unlock()
	if st == nil {
		return
	}
	if onDone, fire := st.deliver(value); fire && onDone != nil {
		onDone(value)
	}
}
