package collection

import (
	"sync"
	"time"

	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/pkg/wire"
)

// LoadModel is the read interface an external load-balancing strategy
// consumes: modeled per-element load for a given phase, iteration over the
// locally owned elements, and phase metadata. The runtime itself never
// interprets these durations; it only records and serves them.
type LoadModel interface {
	// GetModeledLoad returns the modeled duration for idx, phaseOffset
	// phases back from the most recently completed phase (0 = the last
	// completed phase, 1 = the one before, ...). Zero if nothing was
	// recorded for that element in that phase.
	GetModeledLoad(idx Index, phaseOffset int) time.Duration
	// LocalIndices returns the indices of every element this node
	// currently owns, in unspecified order.
	LocalIndices() []Index
	// NumSubphases reports how many subphases each phase is divided into.
	NumSubphases() int
	// NumCompletedPhases reports how many phases have been sealed by
	// NextPhaseCollective so far.
	NumCompletedPhases() int
}

// loadStats backs the default load model for one collection on one node:
// per-phase, per-element observed durations, sealed at phase boundaries.
type loadStats struct {
	mu        sync.Mutex
	subphases int
	completed int
	current   map[int64]time.Duration
	sealed    []map[int64]time.Duration
}

func newLoadStats(subphases int) *loadStats {
	if subphases < 1 {
		subphases = 1
	}
	return &loadStats{subphases: subphases, current: make(map[int64]time.Duration)}
}

func (s *loadStats) record(lin int64, d time.Duration) {
	s.mu.Lock()
	s.current[lin] += d
	s.mu.Unlock()
}

func (s *loadStats) seal() {
	s.mu.Lock()
	s.sealed = append(s.sealed, s.current)
	s.current = make(map[int64]time.Duration)
	s.completed++
	s.mu.Unlock()
}

func (s *loadStats) load(lin int64, phaseOffset int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := len(s.sealed) - 1 - phaseOffset
	if at < 0 || at >= len(s.sealed) {
		return 0
	}
	return s.sealed[at][lin]
}

// model adapts one collection's stats and entry table to LoadModel.
type model struct {
	c     *Coll
	stats *loadStats
}

func (m *model) GetModeledLoad(idx Index, phaseOffset int) time.Duration {
	return m.stats.load(LinearizeColMajor(idx, m.c.rng), phaseOffset)
}

func (m *model) LocalIndices() []Index {
	m.c.mu.RLock()
	defer m.c.mu.RUnlock()
	out := make([]Index, 0, len(m.c.entries))
	for _, ent := range m.c.entries {
		out = append(out, ent.idx)
	}
	return out
}

func (m *model) NumSubphases() int {
	m.stats.mu.Lock()
	defer m.stats.mu.Unlock()
	return m.stats.subphases
}

func (m *model) NumCompletedPhases() int {
	m.stats.mu.Lock()
	defer m.stats.mu.Unlock()
	return m.stats.completed
}

func (m *Manager) statsFor(c *Coll) *loadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.loads[c.id]
	if !ok {
		st = newLoadStats(1)
		m.loads[c.id] = st
	}
	return st
}

// RecordLoad accumulates an observed duration against idx in the current
// (unsealed) phase. Element handlers, or wrappers around them, call this
// with measured execution time; a strategy later reads it back through
// Model once the phase is sealed.
func (m *Manager) RecordLoad(c *Coll, idx Index, d time.Duration) {
	m.statsFor(c).record(LinearizeColMajor(idx, c.rng), d)
}

// Model returns the load-model view of c on this node.
func (m *Manager) Model(c *Coll) LoadModel {
	return &model{c: c, stats: m.statsFor(c)}
}

// NextPhaseCollective seals the current phase on this node and enters a
// group reduction with every other node so the phase boundary is a
// rendezvous, not just a local counter bump. Every node owning part of c
// must call it once per boundary. onDone, if non-nil, fires at the group's
// tree root with the total element count that crossed the boundary.
func (m *Manager) NextPhaseCollective(c *Coll, onDone func(total int)) {
	st := m.statsFor(c)
	st.seal()

	st.mu.Lock()
	phase := st.completed
	st.mu.Unlock()

	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	plus := func(a, b any) any { return wire.ToInt64(a) + wire.ToInt64(b) }
	var cb func(any)
	if onDone != nil {
		cb = func(v any) { onDone(int(wire.ToInt64(v))) }
	}
	m.red.Contribute(c.group, reduceID(c.id, phaseTag|uint64(phase)), count, plus, NoTarget, cb)
}

// phaseTag keeps phase-boundary reductions clear of user Reduce tags over
// the same collection.
const phaseTag = uint64(1) << 31

// NoTarget re-exports the reduction default so callers of
// NextPhaseCollective and Reduce don't need to import internal/reduce for
// the sentinel alone.
const NoTarget = rt.NodeType(-1)
