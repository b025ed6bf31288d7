package location

import (
	"testing"

	"github.com/dreamware/vtrt/internal/rt"
)

func TestProxyIDRoundTrip(t *testing.T) {
	cases := []struct {
		isCollection, isMigratable bool
		home                       uint16
		identifier                 uint64
	}{
		{false, false, 0, 0},
		{true, false, 5, 123},
		{false, true, 65535, MaxIdentifier},
		{true, true, 1, MaxIdentifier / 2},
	}
	for _, c := range cases {
		p := Make(c.isCollection, c.isMigratable, rt.NodeType(c.home), c.identifier)
		if p.IsCollection() != c.isCollection {
			t.Errorf("IsCollection: got %v want %v", p.IsCollection(), c.isCollection)
		}
		if p.IsMigratable() != c.isMigratable {
			t.Errorf("IsMigratable: got %v want %v", p.IsMigratable(), c.isMigratable)
		}
		if p.HomeNode() != rt.NodeType(c.home) {
			t.Errorf("HomeNode: got %v want %v", p.HomeNode(), c.home)
		}
		if p.Identifier() != c.identifier {
			t.Errorf("Identifier: got %d want %d", p.Identifier(), c.identifier)
		}
		if p.IsRemote() {
			t.Errorf("freshly made proxy should not be remote yet")
		}
	}
}

func TestWithRemoteSetsOnlyRemoteBit(t *testing.T) {
	p := Make(true, false, rt.NodeType(9), 77)
	r := p.WithRemote()
	if !r.IsRemote() {
		t.Fatalf("WithRemote should set IsRemote")
	}
	if r.IsCollection() != p.IsCollection() || r.IsMigratable() != p.IsMigratable() ||
		r.HomeNode() != p.HomeNode() || r.Identifier() != p.Identifier() {
		t.Fatalf("WithRemote disturbed unrelated fields")
	}
}

func TestSetHomeOnlyChangesHomeNode(t *testing.T) {
	p := Make(true, true, rt.NodeType(1), 42)
	moved := p.setHome(rt.NodeType(9))
	if moved.HomeNode() != rt.NodeType(9) {
		t.Fatalf("setHome did not update HomeNode")
	}
	if moved.IsCollection() != p.IsCollection() || moved.IsMigratable() != p.IsMigratable() ||
		moved.Identifier() != p.Identifier() {
		t.Fatalf("setHome disturbed unrelated fields")
	}
}
