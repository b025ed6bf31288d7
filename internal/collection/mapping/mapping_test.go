package mapping

import (
	"testing"

	"github.com/dreamware/vtrt/internal/collection"
	"github.com/dreamware/vtrt/internal/rt"
)

// For a range of size M over N nodes, every index maps
// to exactly one node, and the per-node count is floor(M/N) or ceil(M/N).
func TestBlockMapCoversEveryIndexWithBalancedCounts(t *testing.T) {
	for _, tc := range []struct{ m, n int64 }{
		{20, 4}, {21, 4}, {1, 3}, {7, 7}, {100, 6},
	} {
		r := collection.Range1D(tc.m)
		counts := make(map[rt.NodeType]int64)
		for x := int64(0); x < tc.m; x++ {
			node := BlockMap(collection.Index1D(x), r, int(tc.n))
			if int64(node) < 0 || int64(node) >= tc.n {
				t.Fatalf("m=%d n=%d: index %d mapped out of range node %d", tc.m, tc.n, x, node)
			}
			counts[node]++
		}
		base := tc.m / tc.n
		rem := tc.m % tc.n
		var total int64
		for node := rt.NodeType(0); int64(node) < tc.n; node++ {
			c := counts[node]
			total += c
			want := base
			if int64(node) < rem {
				want++
			}
			if c != want {
				t.Errorf("m=%d n=%d: node %d got %d elements, want %d", tc.m, tc.n, node, c, want)
			}
		}
		if total != tc.m {
			t.Errorf("m=%d n=%d: counts sum to %d, want %d", tc.m, tc.n, total, tc.m)
		}
	}
}

func TestRoundRobinMapCoversEveryNode(t *testing.T) {
	const m, n = 23, 4
	r := collection.Range1D(m)
	counts := make(map[rt.NodeType]int)
	for x := int64(0); x < m; x++ {
		node := RoundRobinMap(collection.Index1D(x), r, n)
		counts[node]++
	}
	if len(counts) != n {
		t.Fatalf("round robin should touch every node, got %d of %d", len(counts), n)
	}
}
