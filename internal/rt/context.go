package rt

import "sync"

// Context is the single runtime-context value each node's managers share,
// threaded explicitly through their constructors rather than held in a
// process-wide global. The ambient epoch stack lives here, not on a
// goroutine-local, because the scheduler is single-threaded per node and
// re-entrant calls must see the same stack their caller pushed.
type Context struct {
	mu         sync.Mutex
	epochStack []EpochID
	this       NodeType
	numNodes   int
}

// New creates a runtime context for node `this` among `numNodes` peers.
func New(this NodeType, numNodes int) *Context {
	return &Context{this: this, numNodes: numNodes}
}

// This returns this process's node rank.
func (c *Context) This() NodeType { return c.this }

// NumNodes returns the fixed job size.
func (c *Context) NumNodes() int { return c.numNodes }

// PushEpoch makes e the ambient epoch for anything sent from this point
// until the matching Pop. Nesting is unbounded.
func (c *Context) PushEpoch(e EpochID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochStack = append(c.epochStack, e)
}

// PopEpoch removes the most recently pushed ambient epoch.
func (c *Context) PopEpoch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.epochStack) == 0 {
		return
	}
	c.epochStack = c.epochStack[:len(c.epochStack)-1]
}

// AmbientEpoch returns the current top-of-stack epoch, or NoEpoch if no
// run_in_epoch_* scope is active.
func (c *Context) AmbientEpoch() EpochID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.epochStack) == 0 {
		return NoEpoch
	}
	return c.epochStack[len(c.epochStack)-1]
}

// EpochID is re-declared here (not imported from package epoch) to break
// the import cycle: epoch.Manager needs a *Context, and Context needs the
// epoch ID type. EpochID's bit layout is owned by package epoch; this is
// a plain alias over the same underlying type.
type EpochID uint64

// NoEpoch is the sentinel "not tracked" epoch.
const NoEpoch EpochID = 0
