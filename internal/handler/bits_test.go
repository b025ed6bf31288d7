package handler

import "testing"

// Packing must be a bijection between the field tuple and
// the 32-bit encoding: every field we set is exactly what we read back.
func TestMakeRoundTripsAllFields(t *testing.T) {
	cases := []struct {
		isAuto, isFunctor, isTrace, isBaseMsgDerived bool
		identifier, control                         uint32
		kind                                         Kind
	}{
		{true, false, false, false, 0, 0, KindPlain},
		{false, true, true, true, 7, 123, KindObjGroup},
		{true, true, false, true, MaxIdentifier, (1 << 20) - 1, KindRDMAPut},
		{false, false, true, false, 11, 9999, KindCollectionMember},
	}
	for _, c := range cases {
		h := Make(c.isAuto, c.isFunctor, c.identifier, c.kind, c.control, c.isTrace, c.isBaseMsgDerived)
		if h.IsAuto() != c.isAuto {
			t.Errorf("IsAuto: got %v want %v (case %+v)", h.IsAuto(), c.isAuto, c)
		}
		if h.IsFunctor() != c.isFunctor {
			t.Errorf("IsFunctor: got %v want %v (case %+v)", h.IsFunctor(), c.isFunctor, c)
		}
		if h.IsTrace() != c.isTrace {
			t.Errorf("IsTrace: got %v want %v (case %+v)", h.IsTrace(), c.isTrace, c)
		}
		if h.IsBaseMsgDerived() != c.isBaseMsgDerived {
			t.Errorf("IsBaseMsgDerived: got %v want %v (case %+v)", h.IsBaseMsgDerived(), c.isBaseMsgDerived, c)
		}
		if h.Identifier() != c.identifier {
			t.Errorf("Identifier: got %d want %d (case %+v)", h.Identifier(), c.identifier, c)
		}
		if h.Control() != c.control {
			t.Errorf("Control: got %d want %d (case %+v)", h.Control(), c.control, c)
		}
		if h.RegistryKind() != c.kind {
			t.Errorf("RegistryKind: got %d want %d (case %+v)", h.RegistryKind(), c.kind, c)
		}
	}
}

// Setting one field must never disturb unrelated fields.
func TestSetFieldLeavesOthersUnchanged(t *testing.T) {
	h := Make(true, true, 5, KindCollection, 17, true, false)

	h2 := h.SetControl(99)
	if h2.Control() != 99 {
		t.Fatalf("SetControl did not take effect")
	}
	if h2.Identifier() != h.Identifier() || h2.RegistryKind() != h.RegistryKind() ||
		h2.IsAuto() != h.IsAuto() || h2.IsFunctor() != h.IsFunctor() || h2.IsTrace() != h.IsTrace() {
		t.Fatalf("SetControl disturbed unrelated fields: before=%#x after=%#x", uint32(h), uint32(h2))
	}

	h3 := h.SetIdentifier(12)
	if h3.Identifier() != 12 {
		t.Fatalf("SetIdentifier did not take effect")
	}
	if h3.Control() != h.Control() || h3.RegistryKind() != h.RegistryKind() {
		t.Fatalf("SetIdentifier disturbed unrelated fields: before=%#x after=%#x", uint32(h), uint32(h3))
	}
}

func TestTwoHandlersWithEqualBitsAreEqual(t *testing.T) {
	a := Make(true, false, 3, KindMap, 5, false, true)
	b := Make(true, false, 3, KindMap, 5, false, true)
	if a != b {
		t.Fatalf("identical field tuples produced different IDs: %#x vs %#x", uint32(a), uint32(b))
	}
}

func TestIdentifierOverflowIsDetectable(t *testing.T) {
	h := Make(true, false, MaxIdentifier, KindPlain, 0, false, false)
	if h.Identifier() != MaxIdentifier {
		t.Fatalf("MaxIdentifier round trip failed: got %d want %d", h.Identifier(), MaxIdentifier)
	}
}
