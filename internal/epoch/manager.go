package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/telemetry"
	"github.com/dreamware/vtrt/internal/tree"
)

// Network is the control-plane the Manager needs from the message engine:
// untracked (TypeTerm, rt.NoEpoch) sends for wave submission, wave restart,
// DS acks, and the final termination broadcast. Untracked so the detection
// protocol never counts against the epochs it is detecting.
// internal/messaging implements this; internal/runtime wires it in at
// startup.
type Network interface {
	SendWaveSubmit(to rt.NodeType, e ID, prod, cons uint64)
	SendContinue(to rt.NodeType, e ID)
	SendDSAck(to rt.NodeType, e ID)
	SendTerminated(to rt.NodeType, e ID)
}

// Manager owns epoch construction, the ambient epoch stack, and both
// termination-detection algorithms for every epoch active on this node.
type Manager struct {
	ctx      *rt.Context
	numNodes int
	net      Network
	metrics  *telemetry.Metrics

	mu           sync.Mutex
	four         map[ID]*termState
	ds           map[ID]*dsState
	trees        map[ID]*tree.Shape
	actions      map[ID][]func()
	dependencies map[ID][]ID
	collSeq      uint64
	rootedSeq    uint64
}

// NewManager constructs an epoch manager for a node running in a world of
// numNodes nodes. Network may be nil until internal/runtime finishes wiring
// the message engine; epoch construction and local counting work without
// it, only the cross-node wave/ack/broadcast steps need it.
func NewManager(ctx *rt.Context, numNodes int, net Network) *Manager {
	return &Manager{
		ctx:          ctx,
		numNodes:     numNodes,
		net:          net,
		four:         make(map[ID]*termState),
		ds:           make(map[ID]*dsState),
		trees:        make(map[ID]*tree.Shape),
		actions:      make(map[ID][]func()),
		dependencies: make(map[ID][]ID),
	}
}

// SetNetwork wires the message engine in after construction, breaking the
// manager/messaging initialization cycle (both depend on each other).
func (m *Manager) SetNetwork(net Network) { m.net = net }

// SetMetrics installs the telemetry handle the active-epoch gauge reports
// through. Optional; a nil handle keeps every update a no-op.
func (m *Manager) SetMetrics(mt *telemetry.Metrics) { m.metrics = mt }

// updateActiveGauge recounts the epochs tracked on this node that have not
// yet been declared terminated.
func (m *Manager) updateActiveGauge() {
	m.mu.Lock()
	active := 0
	for _, st := range m.four {
		if !st.isTerminated() {
			active++
		}
	}
	for _, st := range m.ds {
		if !st.isTerminated() {
			active++
		}
	}
	m.mu.Unlock()
	m.metrics.SetActiveEpochs(active)
}

// NewCollectiveEpoch constructs a new collective epoch id. Construction is
// purely local: every node in an SPMD collective call reaches the same
// call symmetrically, so a per-node monotonic counter yields the same
// sequence number everywhere without a network round trip.
func (m *Manager) NewCollectiveEpoch() ID {
	seq := atomic.AddUint64(&m.collSeq, 1) - 1
	if seq > MaxSequence {
		panic("vtrt: collective epoch sequence space exhausted")
	}
	e := makeID(false, CategoryFourCounter, rt.NoNode, seq)

	shape := tree.Default(m.ctx.This(), m.numNodes)
	m.mu.Lock()
	m.trees[e] = shape
	m.four[e] = newTermState(shape.NumChildren())
	m.mu.Unlock()
	m.updateActiveGauge()
	return e
}

// NewRootedEpoch constructs a new rooted epoch homed at this node.
func (m *Manager) NewRootedEpoch() ID {
	seq := atomic.AddUint64(&m.rootedSeq, 1) - 1
	if seq > MaxSequence {
		panic("vtrt: rooted epoch sequence space exhausted")
	}
	e := makeID(true, CategoryDijkstraScholten, m.ctx.This(), seq)

	shape := tree.RootedAt(m.ctx.This(), m.numNodes, m.ctx.This())
	m.mu.Lock()
	m.trees[e] = shape
	m.ds[e] = newDSState(shape.NumChildren())
	m.mu.Unlock()
	m.updateActiveGauge()
	return e
}

// adoptRooted lazily builds local state for a rooted epoch this node did
// not create, the first time it observes one (e.g. as the destination of
// a message stamped with someone else's epoch).
func (m *Manager) adoptRooted(e ID) *dsState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.ds[e]; ok {
		return st
	}
	shape := tree.RootedAt(m.ctx.This(), m.numNodes, HomeNode(e))
	m.trees[e] = shape
	st := newDSState(shape.NumChildren())
	m.ds[e] = st
	return st
}

func (m *Manager) adoptCollective(e ID) *termState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.four[e]; ok {
		return st
	}
	shape := tree.Default(m.ctx.This(), m.numNodes)
	m.trees[e] = shape
	st := newTermState(shape.NumChildren())
	m.four[e] = st
	return st
}

// BeginEpoch pushes e onto the ambient epoch stack.
func (m *Manager) BeginEpoch(e ID) { m.ctx.PushEpoch(e) }

// EndEpoch pops the innermost ambient epoch.
func (m *Manager) EndEpoch() { m.ctx.PopEpoch() }

// Ambient returns the currently active ambient epoch, or NoEpoch.
func (m *Manager) Ambient() ID { return m.ctx.AmbientEpoch() }

// AddAction registers fn to run locally once e is detected terminated. If e
// is already terminated, fn runs immediately. Multiple actions run in
// registration order.
func (m *Manager) AddAction(e ID, fn func()) {
	m.mu.Lock()
	if m.isTerminatedLocked(e) {
		m.mu.Unlock()
		fn()
		return
	}
	m.actions[e] = append(m.actions[e], fn)
	m.mu.Unlock()
}

// AddDependency declares that e must not be reported terminated until
// prereq has itself terminated. Must be called before e's own detection
// algorithm could otherwise declare it quiescent, typically right after
// constructing e; safe to call more than once to declare several
// prerequisites.
func (m *Manager) AddDependency(e ID, prereq ID) {
	m.mu.Lock()
	m.dependencies[e] = append(m.dependencies[e], prereq)
	m.mu.Unlock()
}

// algorithmTerminatedLocked reports whether e's own four-counter or DS
// state has declared it quiescent, ignoring any dependency relationship.
func (m *Manager) algorithmTerminatedLocked(e ID) bool {
	if IsRooted(e) {
		if st, ok := m.ds[e]; ok {
			return st.isTerminated()
		}
		return false
	}
	if st, ok := m.four[e]; ok {
		return st.isTerminated()
	}
	return false
}

// isTerminatedLocked reports whether e is terminated: its own algorithm
// has declared quiescence AND every epoch it depends on has (transitively)
// terminated as well.
func (m *Manager) isTerminatedLocked(e ID) bool {
	if !m.algorithmTerminatedLocked(e) {
		return false
	}
	for _, dep := range m.dependencies[e] {
		if !m.isTerminatedLocked(dep) {
			return false
		}
	}
	return true
}

// dependenciesSatisfiedLocked reports whether every epoch e depends on has
// terminated, without consulting e's own algorithm state. Used to gate the
// moment e's own algorithm is allowed to declare victory: an epoch whose
// algorithm is quiescent but whose prerequisite has not yet terminated must
// keep retrying rather than fan out a premature "terminated".
func (m *Manager) dependenciesSatisfiedLocked(e ID) bool {
	for _, dep := range m.dependencies[e] {
		if !m.isTerminatedLocked(dep) {
			return false
		}
	}
	return true
}

func (m *Manager) runActions(e ID) {
	m.mu.Lock()
	fns := m.actions[e]
	delete(m.actions, e)
	m.mu.Unlock()
	m.updateActiveGauge()
	for _, fn := range fns {
		fn()
	}
}

// NotifySend records an outgoing message tracked under e: the engine
// increments the epoch's local producer counter before handing the message
// to the transport.
func (m *Manager) NotifySend(e ID) {
	if e == NoEpoch {
		return
	}
	if IsRooted(e) {
		m.adoptRooted(e).notifyProduce()
		return
	}
	m.adoptCollective(e).notifyProduce()
}

// NotifyRecv records an incoming message's dispatch under e.
func (m *Manager) NotifyRecv(e ID) {
	if e == NoEpoch {
		return
	}
	if IsRooted(e) {
		m.adoptRooted(e).notifyConsume()
		m.tryAdvanceDS(e)
		return
	}
	m.adoptCollective(e).notifyConsume()
}

// Kick gives the epoch manager a chance to make forward progress on
// termination detection for e. internal/scheduler calls this whenever it
// finds no ready work; the wave/credit steps are driven by local
// quiescence, not by a timer. A collective epoch this node has not yet
// constructed or seen traffic for is adopted here, so every node that
// watches it takes part in its waves.
func (m *Manager) Kick(e ID) {
	if IsRooted(e) {
		m.tryAdvanceDS(e)
		return
	}
	m.adoptCollective(e)
	m.tryAdvanceWave(e)
}

// tryAdvanceDS drives one node's Dijkstra-Scholten credit step. A non-root
// node acks its parent exactly once, the moment it quiesces. The home node
// (root) only *declares* termination once it has quiesced AND every
// dependency declared via AddDependency has itself terminated -- re-checked
// on every Kick after quiescence, since a dependency may still be in
// flight when this node's own credit balance first reaches zero.
func (m *Manager) tryAdvanceDS(e ID) {
	m.mu.Lock()
	st, ok := m.ds[e]
	shape := m.trees[e]
	m.mu.Unlock()
	if !ok || st.isTerminated() {
		return
	}

	if !st.quiesced {
		if !st.readyToAckParent() {
			return
		}
		st.markQuiesced()
		if !shape.IsRoot() {
			if m.net != nil {
				m.net.SendDSAck(shape.Parent(), e)
			}
			return
		}
	} else if !shape.IsRoot() {
		// Already acked upstream; only the root re-polls for dependency
		// resolution, everyone else waits for HandleTerminated.
		return
	}

	m.mu.Lock()
	depsOK := m.dependenciesSatisfiedLocked(e)
	m.mu.Unlock()
	if !depsOK {
		return
	}
	st.setTerminated()
	m.runActions(e)
	m.fanOutTerminated(e, shape)
}

// fanOutTerminated pushes a terminated declaration to every tree child;
// each child's HandleTerminated forwards onward the same way, so the
// declaration floods the whole tree exactly like a broadcast.
func (m *Manager) fanOutTerminated(e ID, shape *tree.Shape) {
	if m.net == nil || shape == nil {
		return
	}
	for _, c := range shape.Children() {
		m.net.SendTerminated(c, e)
	}
}

// tryAdvanceWave drives one node's four-counter wave step. The root, once
// its two-successive-wave comparison has matched, must stop soliciting
// further waves from its children (there is nothing left to produce or
// consume) but may still have to wait for a declared dependency before it
// is allowed to actually declare and fan out termination -- re-checked on
// every Kick without generating any further tree traffic.
func (m *Manager) tryAdvanceWave(e ID) {
	m.mu.Lock()
	st, ok := m.four[e]
	shape := m.trees[e]
	m.mu.Unlock()
	if !ok || st.isTerminated() {
		return
	}

	if shape.IsRoot() && st.waveIsMatched() {
		m.mu.Lock()
		depsOK := m.dependenciesSatisfiedLocked(e)
		m.mu.Unlock()
		if !depsOK {
			return
		}
		st.setTerminated()
		m.runActions(e)
		m.fanOutTerminated(e, shape)
		return
	}

	if !st.readyToSubmit() {
		return
	}
	if shape.IsRoot() {
		prod := st.lProd + st.gProd1
		cons := st.lCons + st.gCons1
		matched := st.rootCompareWaves(prod, cons)
		st.submitCounters()
		st.noteContinue() // the root never receives a continue; re-arm it here.
		if !matched {
			if m.net != nil {
				for _, c := range shape.Children() {
					m.net.SendContinue(c, e)
				}
			}
			return
		}
		st.setWaveMatched()
		m.mu.Lock()
		depsOK := m.dependenciesSatisfiedLocked(e)
		m.mu.Unlock()
		if !depsOK {
			return
		}
		st.setTerminated()
		m.runActions(e)
		m.fanOutTerminated(e, shape)
		return
	}
	prod, cons := st.submitCounters()
	if m.net != nil {
		m.net.SendWaveSubmit(shape.Parent(), e, prod, cons)
	}
}

// HandleWaveSubmit is the four-counter rollup's receive side: a child has
// submitted its subtree's combined counters for the current wave.
func (m *Manager) HandleWaveSubmit(from rt.NodeType, e ID, prod, cons uint64) {
	st := m.adoptCollective(e)
	if st.isTerminated() {
		return
	}
	if st.receiveChild(prod, cons) {
		m.tryAdvanceWave(e)
	}
}

// HandleContinue is the four-counter rollup's wave-restart broadcast: the
// root's comparison failed, so every node re-arms its next submission and
// resumes waiting for its children (leaves resubmit immediately).
func (m *Manager) HandleContinue(e ID) {
	st := m.adoptCollective(e)
	if st.isTerminated() {
		return
	}
	st.noteContinue()
	m.mu.Lock()
	shape := m.trees[e]
	m.mu.Unlock()
	if m.net != nil && shape != nil {
		for _, c := range shape.Children() {
			m.net.SendContinue(c, e)
		}
	}
	m.tryAdvanceWave(e)
}

// HandleDSAck is the Dijkstra-Scholten receive side: a tree child has
// returned its credit, meaning its subtree is quiescent.
func (m *Manager) HandleDSAck(from rt.NodeType, e ID) {
	st := m.adoptRooted(e)
	if st.isTerminated() {
		return
	}
	st.childAck()
	m.tryAdvanceDS(e)
}

// HandleTerminated is the broadcast receive side for both algorithms: the
// owning node has declared e terminated, fan this out to the rest of the
// tree and run any locally registered continuations.
func (m *Manager) HandleTerminated(e ID) {
	m.mu.Lock()
	alreadyDone := m.isTerminatedLocked(e)
	shape := m.trees[e]
	m.mu.Unlock()
	if alreadyDone {
		return
	}
	if IsRooted(e) {
		m.adoptRooted(e).setTerminated()
	} else {
		m.adoptCollective(e).setTerminated()
	}
	m.runActions(e)
	m.fanOutTerminated(e, shape)
}

// IsTerminated reports whether e has been detected terminated on this node.
func (m *Manager) IsTerminated(e ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isTerminatedLocked(e)
}
