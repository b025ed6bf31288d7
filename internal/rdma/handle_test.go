package rdma

import (
	"testing"

	"github.com/dreamware/vtrt/internal/rt"
)

func TestHandleRoundTrip(t *testing.T) {
	cases := []struct {
		isSized, isCollective, isHandlerBased bool
		op                                    OpType
		home                                  rt.NodeType
		identifier                            uint64
	}{
		{false, false, false, OpNone, 0, 0},
		{true, false, true, OpGet, 12, 999},
		{false, true, false, OpPut, 65535, MaxIdentifier},
		{true, true, true, OpGetPut, 3, MaxIdentifier / 3},
	}
	for _, c := range cases {
		h := Make(c.isSized, c.isCollective, c.isHandlerBased, c.op, c.home, c.identifier)
		if h.IsSized() != c.isSized {
			t.Errorf("IsSized: got %v want %v", h.IsSized(), c.isSized)
		}
		if h.IsCollective() != c.isCollective {
			t.Errorf("IsCollective: got %v want %v", h.IsCollective(), c.isCollective)
		}
		if h.IsHandlerBased() != c.isHandlerBased {
			t.Errorf("IsHandlerBased: got %v want %v", h.IsHandlerBased(), c.isHandlerBased)
		}
		if h.OpType() != c.op {
			t.Errorf("OpType: got %v want %v", h.OpType(), c.op)
		}
		if h.HomeNode() != c.home {
			t.Errorf("HomeNode: got %v want %v", h.HomeNode(), c.home)
		}
		if h.Identifier() != c.identifier {
			t.Errorf("Identifier: got %d want %d", h.Identifier(), c.identifier)
		}
	}
}

func TestWithHomeOnlyChangesHomeNode(t *testing.T) {
	h := Make(true, true, false, OpGet, 1, 55)
	moved := h.WithHome(7)
	if moved.HomeNode() != 7 {
		t.Fatalf("WithHome did not update HomeNode")
	}
	if moved.IsSized() != h.IsSized() || moved.IsCollective() != h.IsCollective() ||
		moved.OpType() != h.OpType() || moved.Identifier() != h.Identifier() {
		t.Fatalf("WithHome disturbed unrelated fields")
	}
}
