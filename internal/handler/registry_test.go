package handler

import (
	"testing"

	"github.com/dreamware/vtrt/internal/rt"
)

func TestRegisterAndDispatchInvokesThunk(t *testing.T) {
	r := NewRegistry()
	var gotMsg []byte
	var gotFrom rt.NodeType
	h := r.Register(KindPlain, "echo", 0, false, false, false, func(msg []byte, from rt.NodeType) {
		gotMsg = msg
		gotFrom = from
	})

	r.Dispatch(h, []byte("hi"), 3)

	if string(gotMsg) != "hi" || gotFrom != 3 {
		t.Fatalf("thunk did not observe call args: msg=%q from=%d", gotMsg, gotFrom)
	}
	if !r.IsRegistered(h) {
		t.Fatalf("handler should report registered")
	}
	if r.Name(h) != "echo" {
		t.Fatalf("Name() = %q, want %q", r.Name(h), "echo")
	}
}

func TestDispatchUnregisteredIsFatal(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic dispatching an unregistered handler")
		}
	}()
	r.Dispatch(ID(0xdeadbeef), nil, 0)
}

func TestRegisterPartitionsIdentifiersByKind(t *testing.T) {
	r := NewRegistry()
	p0 := r.Register(KindPlain, "p0", 0, false, false, false, func([]byte, rt.NodeType) {})
	m0 := r.Register(KindMap, "m0", 0, false, false, false, func([]byte, rt.NodeType) {})
	p1 := r.Register(KindPlain, "p1", 0, false, false, false, func([]byte, rt.NodeType) {})

	if p0.Identifier() != 0 || m0.Identifier() != 0 {
		t.Fatalf("first registration in each kind should get identifier 0: p0=%d m0=%d", p0.Identifier(), m0.Identifier())
	}
	if p1.Identifier() != 1 {
		t.Fatalf("second plain registration should get identifier 1, got %d", p1.Identifier())
	}
	if p0 == m0 {
		t.Fatalf("handlers in different kinds with the same identifier must not collide")
	}
}

func TestRegisterWithAuxRecoversAuxPointer(t *testing.T) {
	r := NewRegistry()
	type payload struct{ n int }
	aux := &payload{n: 7}
	called := false
	h := r.RegisterWithAux(KindRDMAGet, "aux", 0, aux, func([]byte, rt.NodeType) { called = true })

	got, ok := r.Aux(h).(*payload)
	if !ok || got.n != 7 {
		t.Fatalf("Aux() did not return the registered pointer: %#v", r.Aux(h))
	}
	r.Dispatch(h, nil, 0)
	if !called {
		t.Fatalf("RegisterWithAux's thunk never ran")
	}
}

func TestAuxOnPlainHandlerIsNil(t *testing.T) {
	r := NewRegistry()
	h := r.Register(KindPlain, "noaux", 0, false, false, false, func([]byte, rt.NodeType) {})
	if r.Aux(h) != nil {
		t.Fatalf("plain Register should leave Aux nil")
	}
}

func TestRegisterOverflowPanics(t *testing.T) {
	r := NewRegistry()
	r.next[KindPlain] = MaxIdentifier + 1
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on identifier space exhaustion")
		}
	}()
	r.Register(KindPlain, "overflow", 0, false, false, false, func([]byte, rt.NodeType) {})
}
