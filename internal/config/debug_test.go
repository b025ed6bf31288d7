package config

import "testing"

func withRecover(fn func()) {
	defer func() { recover() }()
	fn()
}

func TestEnableScopedRestoresPriorValueAfterPanic(t *testing.T) {
	live.mu.Lock()
	live.v[DebugFlagReduce] = false
	live.mu.Unlock()

	withRecover(func() {
		restore := EnableScoped(DebugFlagReduce)
		defer restore()
		if !Enabled(DebugFlagReduce) {
			t.Fatal("expected flag enabled inside scope")
		}
		panic("simulated early exit")
	})

	if Enabled(DebugFlagReduce) {
		t.Fatal("flag should have been restored to false after scope exit, even via panic")
	}
}

func TestEnableScopedRestoresPriorTrue(t *testing.T) {
	live.mu.Lock()
	live.v[DebugFlagParam] = true
	live.mu.Unlock()

	restore := EnableScoped(DebugFlagParam)
	if !Enabled(DebugFlagParam) {
		t.Fatal("expected enabled")
	}
	restore()
	if !Enabled(DebugFlagParam) {
		t.Fatal("expected restored to true, not false")
	}
}
