// Package runtime wires one node's managers together: the order here is the
// load-bearing part, since internal/epoch and internal/messaging each need
// a reference to the other before either can be fully constructed.
package runtime

import (
	"github.com/dreamware/vtrt/internal/collection"
	"github.com/dreamware/vtrt/internal/epoch"
	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/location"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/objgroup"
	"github.com/dreamware/vtrt/internal/rdma"
	"github.com/dreamware/vtrt/internal/reduce"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/scheduler"
	"github.com/dreamware/vtrt/internal/telemetry"
	"github.com/dreamware/vtrt/internal/transport"
)

// Node bundles every manager that exists once per process, sharing one
// runtime context rather than any process-wide global.
type Node struct {
	Context    *rt.Context
	Registry   *handler.Registry
	Epoch      *epoch.Manager
	Scheduler  *scheduler.Scheduler
	Messaging  *messaging.Engine
	Location   *location.Manager
	Collection *collection.Manager
	ObjGroup   *objgroup.Manager
	Reduce     *reduce.Manager
	RDMA       *rdma.Manager
	Metrics    *telemetry.Metrics
}

// New constructs every manager for a node at rank `this` among `numNodes`
// peers, communicating over tr, and wires the epoch/messaging circular
// dependency via epoch.Manager.SetNetwork.
func New(this rt.NodeType, numNodes int, hopCap int, tr transport.Transport, m *telemetry.Metrics) *Node {
	ctx := rt.New(this, numNodes)
	reg := handler.NewRegistry()
	em := epoch.NewManager(ctx, numNodes, nil)
	sch := scheduler.New(em)
	eng := messaging.New(ctx, reg, em, sch, tr, m)
	em.SetNetwork(eng)
	em.SetMetrics(m)
	sch.SetMetrics(m)

	loc := location.New(ctx, reg, eng, hopCap)
	red := reduce.New(ctx, reg, eng)
	coll := collection.New(ctx, reg, eng, loc, red)
	og := objgroup.New(ctx, reg, eng, red)
	rd := rdma.New(ctx, reg, eng)

	return &Node{
		Context:    ctx,
		Registry:   reg,
		Epoch:      em,
		Scheduler:  sch,
		Messaging:  eng,
		Location:   loc,
		Collection: coll,
		ObjGroup:   og,
		Reduce:     red,
		RDMA:       rd,
		Metrics:    m,
	}
}
