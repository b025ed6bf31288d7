package epoch

// termState is the four-counter wave state for one collective epoch on one
// node: local produce/consume counters, the two most recent global wave
// sums, plus the bookkeeping needed to know when this node's subtree is
// ready to submit to its parent.
type termState struct {
	lProd, lCons   uint64
	gProd1, gCons1 uint64
	gProd2, gCons2 uint64

	wave          uint32
	submittedWave int32 // -1 == nothing submitted yet
	childRecv     int
	numChildren   int
	needSubmit    bool

	active      bool
	terminated  bool
	waveMatched bool

	// Child submissions are not stored individually: receiveChild adds
	// each one into gProd1/gCons1 for the current wave as it arrives.
}

func newTermState(numChildren int) *termState {
	return &termState{submittedWave: -1, numChildren: numChildren, active: true, needSubmit: true}
}

// notifyProduce records a local send under this epoch.
func (t *termState) notifyProduce() { t.lProd++ }

// notifyConsume records a local dispatch under this epoch.
func (t *termState) notifyConsume() { t.lCons++ }

// receiveChild folds a child's submitted wave counters into this node's
// running sums for the current wave, and reports whether all children for
// this wave have now reported (ready to submit to parent).
func (t *termState) receiveChild(prod, cons uint64) bool {
	t.gProd1 += prod
	t.gCons1 += cons
	t.childRecv++
	return t.childRecv >= t.numChildren
}

// readyToSubmit reports whether this node can submit: every child has
// reported for the current wave, and this node has not already submitted
// it. A node submits at most once per wave; the root's continue message
// re-arms the next one, which keeps a duplicate submission from one child
// from standing in for a missing one and letting the root compare a wave
// that excludes part of the tree.
func (t *termState) readyToSubmit() bool {
	return t.needSubmit && t.childRecv >= t.numChildren
}

// submitCounters returns the combined (local + descendants) counters to
// hand to the parent, then resets per-wave accumulation state.
func (t *termState) submitCounters() (prod, cons uint64) {
	prod = t.lProd + t.gProd1
	cons = t.lCons + t.gCons1
	t.submittedWave = int32(t.wave)
	t.childRecv = 0
	t.gProd1, t.gCons1 = 0, 0
	t.needSubmit = false
	return prod, cons
}

// noteContinue re-arms the next wave submission.
func (t *termState) noteContinue() { t.needSubmit = true }

// rootCompareWaves implements the root's two-successive-wave comparison:
// termination only when this wave's combined counters balance and equal
// the previous wave's.
func (t *termState) rootCompareWaves(prod, cons uint64) bool {
	matched := prod == cons && prod == t.gProd2 && cons == t.gCons2
	t.gProd2, t.gCons2 = prod, cons
	t.wave++
	return matched
}

// setTerminated marks this node's copy of the epoch as detected-terminated.
func (t *termState) setTerminated() { t.terminated = true; t.active = false }

// isTerminated reports whether termination has been declared for this node.
func (t *termState) isTerminated() bool { return t.terminated }

// setWaveMatched records that the root's two-successive-wave comparison
// has already succeeded once, independent of whether the epoch has an
// outstanding dependency still blocking the actual termination
// declaration. Once set, the root must stop soliciting further waves from
// its children -- there is nothing left to produce or consume, only a
// dependency to wait out.
func (t *termState) setWaveMatched()     { t.waveMatched = true }
func (t *termState) waveIsMatched() bool { return t.waveMatched }
