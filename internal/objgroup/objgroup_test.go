package objgroup

import (
	"sync"
	"testing"
	"time"

	"github.com/dreamware/vtrt/internal/epoch"
	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/reduce"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/scheduler"
	"github.com/dreamware/vtrt/internal/transport/local"
	"github.com/dreamware/vtrt/pkg/wire"
)

type testNode struct {
	ctx *rt.Context
	reg *handler.Registry
	em  *epoch.Manager
	sch *scheduler.Scheduler
	eng *messaging.Engine
	og  *Manager
}

func buildCluster(t *testing.T, n int) []*testNode {
	t.Helper()
	fabric := local.NewFabric(n)
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		this := rt.NodeType(i)
		ctx := rt.New(this, n)
		reg := handler.NewRegistry()
		em := epoch.NewManager(ctx, n, nil)
		sch := scheduler.New(em)
		tr := fabric.NewNode(this)
		eng := messaging.New(ctx, reg, em, sch, tr, nil)
		em.SetNetwork(eng)
		red := reduce.New(ctx, reg, eng)
		og := New(ctx, reg, eng, red)
		nodes[i] = &testNode{ctx: ctx, reg: reg, em: em, sch: sch, eng: eng, og: og}
	}
	return nodes
}

func pumpAll(nodes []*testNode, rounds int) {
	for i := 0; i < rounds; i++ {
		progressed := false
		for _, nd := range nodes {
			if nd.sch.RunSchedulerOnce() {
				progressed = true
			}
		}
		if !progressed {
			time.Sleep(time.Millisecond)
		}
	}
}

func watchAll(nodes []*testNode, e rt.EpochID) {
	for _, nd := range nodes {
		nd.sch.Watch(e)
	}
}

type counterObj struct {
	mu  sync.Mutex
	got int
}

// TestSendAddressesByNode checks a Send reaches exactly the targeted
// node's instance, not every node's.
func TestSendAddressesByNode(t *testing.T) {
	nodes := buildCluster(t, 3)
	groups := make([]*Group, 3)
	objs := make([]*counterObj, 3)
	var hs []handler.ID
	for i, nd := range nodes {
		obj := &counterObj{}
		objs[i] = obj
		groups[i] = nd.og.Construct(func() any { return obj })
	}
	for i, nd := range nodes {
		h := nd.og.RegisterHandler(groups[i], "inc", func(o any, _ []byte, _ rt.NodeType) {
			o.(*counterObj).mu.Lock()
			o.(*counterObj).got++
			o.(*counterObj).mu.Unlock()
		})
		hs = append(hs, h)
	}

	e := nodes[0].em.NewCollectiveEpoch()
	watchAll(nodes, e)
	nodes[0].em.BeginEpoch(e)
	if err := nodes[0].og.Send(groups[0], rt.NodeType(2), hs[0], nil); err != nil {
		t.Fatal(err)
	}
	nodes[0].em.EndEpoch()
	pumpAll(nodes, 500)

	if !nodes[0].em.IsTerminated(e) {
		t.Fatal("epoch did not terminate")
	}
	if objs[2].got != 1 {
		t.Fatalf("want node 2's instance incremented once, got %d", objs[2].got)
	}
	if objs[0].got != 0 || objs[1].got != 0 {
		t.Fatalf("want only node 2 touched, got %d %d", objs[0].got, objs[1].got)
	}
}

// TestBroadcastReachesEveryInstance exercises broadcast completeness at the
// object-group layer: the sender's own instance is touched directly, every
// other node's exactly once.
func TestBroadcastReachesEveryInstance(t *testing.T) {
	nodes := buildCluster(t, 4)
	groups := make([]*Group, 4)
	objs := make([]*counterObj, 4)
	var hs []handler.ID
	for i, nd := range nodes {
		obj := &counterObj{}
		objs[i] = obj
		groups[i] = nd.og.Construct(func() any { return obj })
	}
	for i, nd := range nodes {
		h := nd.og.RegisterHandler(groups[i], "inc", func(o any, _ []byte, _ rt.NodeType) {
			o.(*counterObj).mu.Lock()
			o.(*counterObj).got++
			o.(*counterObj).mu.Unlock()
		})
		hs = append(hs, h)
	}

	e := nodes[0].em.NewCollectiveEpoch()
	watchAll(nodes, e)
	nodes[0].em.BeginEpoch(e)
	nodes[0].og.Broadcast(groups[0], hs[0], nil)
	nodes[0].em.EndEpoch()
	pumpAll(nodes, 1000)

	for i, obj := range objs {
		if obj.got != 1 {
			t.Errorf("node %d: want 1 delivery, got %d", i, obj.got)
		}
	}
}

// TestReduceAcrossGroup checks a sum reduction over an object group's
// per-node contributions, delivered to node 0.
func TestReduceAcrossGroup(t *testing.T) {
	nodes := buildCluster(t, 4)
	groups := make([]*Group, 4)
	for i, nd := range nodes {
		groups[i] = nd.og.Construct(func() any { return struct{}{} })
	}

	plus := func(a, b any) any { return wire.ToInt64(a) + wire.ToInt64(b) }
	result := make(chan int64, 1)

	e := nodes[0].em.NewCollectiveEpoch()
	watchAll(nodes, e)
	nodes[0].em.BeginEpoch(e)
	for i, nd := range nodes {
		i := i
		var onDone func(any)
		if i == 0 {
			onDone = func(v any) { result <- wire.ToInt64(v) }
		}
		nd.og.Reduce(groups[i], 1, i+1, plus, rt.NodeType(0), onDone)
	}
	nodes[0].em.EndEpoch()
	pumpAll(nodes, 2000)

	select {
	case v := <-result:
		if v != 10 {
			t.Fatalf("want sum 10, got %d", v)
		}
	default:
		t.Fatal("onDone never fired")
	}
}
