// Package rt holds the small, shared value types that every vtrt manager
// depends on: the node identifier, the epoch stack threaded through a
// runtime context, and the handful of sentinel values used across
// packages. Keeping these in one leaf package avoids import cycles
// between handler, epoch, location, collection and scheduler.
package rt

import "fmt"

// NodeType is a small integer identifying a process in the fixed job.
// The job size never changes during a run.
type NodeType int32

// NoNode is the sentinel for "no destination" / "no parent" / "unassigned".
const NoNode NodeType = -1

// String renders a node for log lines as "node3".
func (n NodeType) String() string {
	if n == NoNode {
		return "node<none>"
	}
	return fmt.Sprintf("node%d", int32(n))
}

// Valid reports whether n is a real rank in [0, numNodes).
func (n NodeType) Valid(numNodes int) bool {
	return n >= 0 && int(n) < numNodes
}
