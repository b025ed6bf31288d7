package handler

import (
	"fmt"
	"sync"

	"github.com/dreamware/vtrt/internal/rt"
)

// Thunk is the typed dispatch function invoked on message arrival: the raw
// message bytes and the sending node. Handlers never return a value;
// replies, if any, are themselves active messages.
type Thunk func(msg []byte, from rt.NodeType)

// entry is one registered handler: its dispatch thunk, trace name, and an
// optional auxiliary pointer a caller-specific registry (collection map
// function, objgroup instance, RDMA callback table) can stash and recover
// via Aux. The registry itself never interprets Aux.
type entry struct {
	thunk Thunk
	aux   any
	name  string
}

// Registry partitions handlers by Kind and assigns each kind its own
// sequential identifier space, so two kinds never collide even though both
// start counting from zero.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*entry
	next    map[Kind]uint32
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ID]*entry),
		next:    make(map[Kind]uint32),
	}
}

// Register assigns the next identifier within kind and returns the packed
// handler ID. Overflowing the identifier bit-field is a resource-exhaustion
// fatal.
func (r *Registry) Register(kind Kind, name string, control uint32, isFunctor, isTrace, isBaseMsgDerived bool, thunk Thunk) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next[kind]
	if uint32(id) > MaxIdentifier {
		panic(fmt.Sprintf("vtrt: handler identifier space exhausted for kind %d", kind))
	}
	r.next[kind] = id + 1

	h := Make(true, isFunctor, id, kind, control, isTrace, isBaseMsgDerived)
	r.entries[h] = &entry{thunk: thunk, name: name}
	return h
}

// RegisterWithAux is Register plus an auxiliary pointer recovered later via
// Aux, used for collection map functions, objgroup instances, and RDMA
// callback tables.
func (r *Registry) RegisterWithAux(kind Kind, name string, control uint32, aux any, thunk Thunk) ID {
	h := r.Register(kind, name, control, false, true, true, thunk)
	r.mu.Lock()
	r.entries[h].aux = aux
	r.mu.Unlock()
	return h
}

// Dispatch invokes the handler named by h. Dispatching an unregistered ID is
// a programming error and is fatal.
func (r *Registry) Dispatch(h ID, msg []byte, from rt.NodeType) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt: dispatch of unregistered handler %#x (kind=%d id=%d)", uint32(h), h.RegistryKind(), h.Identifier()))
	}
	e.thunk(msg, from)
}

// Aux returns the auxiliary pointer registered with h, or nil if h carries
// none or is unregistered.
func (r *Registry) Aux(h ID) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return nil
	}
	return e.aux
}

// Name returns the trace name registered for h, or "" if unregistered.
func (r *Registry) Name(h ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return ""
	}
	return e.name
}

// IsRegistered reports whether h has a live entry, used by defensive
// callers that want to avoid the panic path of Dispatch.
func (r *Registry) IsRegistered(h ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[h]
	return ok
}
