package config

import "sync"

// DebugFlag names one of the VT_DEBUG_* switches. Each is an independent
// boolean; DebugAll is consulted by callers as "treat every flag as
// enabled" rather than folded into the others here.
type DebugFlag int

const (
	DebugFlagAll DebugFlag = iota
	DebugFlagTermDS
	DebugFlagParam
	DebugFlagScatter
	DebugFlagNone
	DebugFlagActive
	DebugFlagReduce
	DebugFlagContext
)

// flags holds the live, mutable state of every debug flag, separate from
// Config so a flag can be scoped-enabled mid-run without re-parsing the
// environment.
type flags struct {
	mu sync.Mutex
	v  map[DebugFlag]bool
}

var live = &flags{v: make(map[DebugFlag]bool)}

// Seed copies a loaded Config's debug booleans into the live flag set. Call
// once at startup after Load/MustLoad.
func Seed(c Config) {
	live.mu.Lock()
	defer live.mu.Unlock()
	live.v[DebugFlagAll] = c.DebugAll
	live.v[DebugFlagTermDS] = c.DebugTermDS
	live.v[DebugFlagParam] = c.DebugParam
	live.v[DebugFlagScatter] = c.DebugScatter
	live.v[DebugFlagNone] = c.DebugNone
	live.v[DebugFlagActive] = c.DebugActive
	live.v[DebugFlagReduce] = c.DebugReduce
	live.v[DebugFlagContext] = c.DebugContext
}

// Enabled reports whether f (or DebugFlagAll) is currently on.
func Enabled(f DebugFlag) bool {
	live.mu.Lock()
	defer live.mu.Unlock()
	return live.v[DebugFlagAll] || live.v[f]
}

// EnableScoped turns f on and returns a closure that restores f's prior
// value. Deferring the returned func restores the flag however the
// caller's scope exits, panics included.
func EnableScoped(f DebugFlag) func() {
	live.mu.Lock()
	prior := live.v[f]
	live.v[f] = true
	live.mu.Unlock()

	return func() {
		live.mu.Lock()
		live.v[f] = prior
		live.mu.Unlock()
	}
}
