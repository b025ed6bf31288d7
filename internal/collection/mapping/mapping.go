// Package mapping provides concrete index->node map functions for
// collection construction.
package mapping

import (
	"github.com/dreamware/vtrt/internal/collection"
	"github.com/dreamware/vtrt/internal/rt"
)

// Func maps an index to the node that owns it, given the collection's
// range and the fixed job size.
type Func func(idx collection.Index, r collection.Range, numNodes int) rt.NodeType

// BlockMap assigns contiguous blocks of linearized indices to nodes: node
// k owns indices [k*floor(M/N) + min(k,M%N), ...), giving every node
// floor(M/N) or ceil(M/N) elements.
func BlockMap(idx collection.Index, r collection.Range, numNodes int) rt.NodeType {
	m := r.Size()
	lin := collection.LinearizeColMajor(idx, r)
	base := m / int64(numNodes)
	rem := m % int64(numNodes)

	// The first `rem` nodes get one extra element; find which block lin
	// falls into by walking node boundaries (numNodes is always small
	// relative to typical collection sizes, so linear scan is fine).
	var start int64
	for node := 0; node < numNodes; node++ {
		size := base
		if int64(node) < rem {
			size++
		}
		if lin < start+size {
			return rt.NodeType(node)
		}
		start += size
	}
	return rt.NodeType(numNodes - 1)
}

// RoundRobinMap assigns linearized index i to node i%numNodes.
func RoundRobinMap(idx collection.Index, r collection.Range, numNodes int) rt.NodeType {
	lin := collection.LinearizeColMajor(idx, r)
	return rt.NodeType(lin % int64(numNodes))
}
