// Package scheduler implements vtrt's cooperative run loop: a
// single-threaded-per-node work queue, re-entrant to an explicit depth
// limit, with idle cycles used to drive epoch termination detection
// forward (internal/epoch's wave/credit steps have no timer of their own).
package scheduler

import (
	"sync"

	"github.com/dreamware/vtrt/internal/epoch"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/telemetry"
)

// MaxDepth bounds re-entrant scheduler nesting; blowing past it is a
// resource-exhaustion fatal rather than a silent stack overflow.
const MaxDepth = 64

// Work is a single unit of scheduled work: a handler dispatch, a
// continuation, or an epoch action.
type Work func()

// Scheduler is the per-node cooperative run loop. It is not safe to call
// Run/RunUntil concurrently from two goroutines against the same instance;
// vtrt runs exactly one scheduler goroutine per node.
type Scheduler struct {
	mu      sync.Mutex
	queue   []Work
	wake    chan struct{}
	depth   int
	epochs  []rt.EpochID
	manager *epoch.Manager
	metrics *telemetry.Metrics
	done    bool
}

// New constructs a scheduler bound to em, the node's epoch manager, whose
// Kick method is invoked on every idle cycle for each epoch still tracked
// by Watch.
func New(em *epoch.Manager) *Scheduler {
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		manager: em,
	}
}

// SetMetrics installs the telemetry handle the queue-depth gauge reports
// through. Optional; a nil handle keeps every update a no-op.
func (s *Scheduler) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Enqueue schedules fn to run on a future scheduler turn. Safe to call from
// any goroutine, including from inside a running Work.
func (s *Scheduler) Enqueue(fn Work) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.metrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Watch registers e so that every idle cycle calls manager.Kick(e) until e
// is reported terminated, at which point it is dropped from the watch set.
// Wakes a blocked RunUntil loop so the first kick is not deferred until the
// next inbound frame.
func (s *Scheduler) Watch(e rt.EpochID) {
	s.mu.Lock()
	s.epochs = append(s.epochs, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Depth reports the current scheduler re-entrancy depth (0 outside any
// Run/RunUntil call).
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

func (s *Scheduler) enter() {
	s.mu.Lock()
	s.depth++
	d := s.depth
	s.mu.Unlock()
	if d > MaxDepth {
		panic("vtrt: scheduler re-entrancy depth exceeded")
	}
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.depth--
	s.mu.Unlock()
}

// RunSchedulerOnce drains every currently-queued unit of work exactly once
// (no blocking), then kicks every watched epoch, and reports whether any
// work ran or any epoch newly terminated, i.e. whether the caller made
// progress.
func (s *Scheduler) RunSchedulerOnce() bool {
	s.enter()
	defer s.leave()

	progressed := s.drain()
	progressed = s.kickEpochs() || progressed
	return progressed
}

func (s *Scheduler) drain() bool {
	ran := false
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return ran
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.SetQueueDepth(len(s.queue))
		s.mu.Unlock()

		fn()
		ran = true
	}
}

func (s *Scheduler) kickEpochs() bool {
	if s.manager == nil {
		return false
	}
	s.mu.Lock()
	var live []rt.EpochID
	snapshot := append([]rt.EpochID(nil), s.epochs...)
	s.mu.Unlock()

	progressed := false
	for _, e := range snapshot {
		if s.manager.IsTerminated(e) {
			progressed = true
			continue
		}
		s.manager.Kick(e)
		if s.manager.IsTerminated(e) {
			progressed = true
		} else {
			live = append(live, e)
		}
	}

	s.mu.Lock()
	s.epochs = live
	s.mu.Unlock()
	return progressed
}

// RunUntil blocks the calling goroutine, repeatedly draining queued work
// and kicking watched epochs, until pred returns true. It is the building
// block for both RunInEpochCollective and RunInEpochRooted: a caller
// waits on the specific epoch's IsTerminated as pred.
func (s *Scheduler) RunUntil(pred func() bool) {
	s.enter()
	defer s.leave()

	for !pred() {
		if s.drain() {
			continue
		}
		if s.kickEpochs() {
			continue
		}
		<-s.wake
	}
}

// RunInEpochCollective runs fn under a freshly constructed collective
// epoch, then blocks until that epoch is detected terminated, returning
// its ID. Every node must make the same call symmetrically.
func (s *Scheduler) RunInEpochCollective(fn func()) rt.EpochID {
	e := s.manager.NewCollectiveEpoch()
	s.Watch(e)
	s.manager.BeginEpoch(e)
	fn()
	s.manager.EndEpoch()
	s.RunUntil(func() bool { return s.manager.IsTerminated(e) })
	return e
}

// RunInEpochRooted is RunInEpochCollective's rooted-epoch counterpart,
// using Dijkstra-Scholten credit accounting instead of the four-counter
// wave algorithm.
func (s *Scheduler) RunInEpochRooted(fn func()) rt.EpochID {
	e := s.manager.NewRootedEpoch()
	s.Watch(e)
	s.manager.BeginEpoch(e)
	fn()
	s.manager.EndEpoch()
	s.RunUntil(func() bool { return s.manager.IsTerminated(e) })
	return e
}

// Stop unblocks any RunUntil loop waiting with a pred that will now return
// true, and prevents further productive Enqueue wakeups. Used by cmd/vtrun
// and cmd/vtnode on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done reports whether Stop has been called.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
