// Package local implements an in-process transport.Transport: every node
// is a goroutine, "wires" between nodes are buffered channels, and the
// whole world lives inside one Go process. Used by cmd/vtrun's in-process
// demo and by internal test suites that exercise multi-node behavior
// without touching a socket.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/transport"
)

// inboxCapacity bounds how many undelivered frames a node will buffer
// before Send blocks, providing simple backpressure between nodes.
const inboxCapacity = 4096

type frame struct {
	from    rt.NodeType
	payload []byte
}

// Fabric is the shared switchboard every node's Local transport sends
// through. One Fabric corresponds to one in-process "cluster".
type Fabric struct {
	mu       sync.RWMutex
	numNodes int
	nodes    map[rt.NodeType]*Local
}

// NewFabric allocates a fabric sized for numNodes nodes. Nodes attach to it
// via NewNode.
func NewFabric(numNodes int) *Fabric {
	return &Fabric{numNodes: numNodes, nodes: make(map[rt.NodeType]*Local)}
}

// NewNode creates and registers the transport for node `this`. Must be
// called once per node before any Send targeting it will succeed.
func (f *Fabric) NewNode(this rt.NodeType) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		this:     this,
		fabric:   f,
		inbox:    make(chan frame, inboxCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}

	f.mu.Lock()
	f.nodes[this] = l
	f.mu.Unlock()

	l.wg.Add(1)
	go l.pump()
	return l
}

func (f *Fabric) lookup(n rt.NodeType) (*Local, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	l, ok := f.nodes[n]
	return l, ok
}

// Local is one node's in-process transport.Transport.
type Local struct {
	this   rt.NodeType
	fabric *Fabric
	inbox  chan frame

	mu     sync.RWMutex
	recv   transport.Receiver
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// This returns the node this transport belongs to.
func (l *Local) This() rt.NodeType { return l.this }

// NumNodes returns the fabric's configured world size.
func (l *Local) NumNodes() int { return l.fabric.numNodes }

// SetReceiver installs the callback inbound frames are delivered to. Must
// be called before the first inbound frame arrives to avoid dropping it;
// callers normally set this immediately after NewNode, before any other
// node can have learned this node's address.
func (l *Local) SetReceiver(r transport.Receiver) {
	l.mu.Lock()
	l.recv = r
	l.mu.Unlock()
}

// Send copies payload and enqueues it on the destination node's inbox.
// Blocks if that node's inbox is full (backpressure), and returns an error
// if the destination is unknown to the fabric or this transport is closed.
func (l *Local) Send(to rt.NodeType, payload []byte) error {
	dst, ok := l.fabric.lookup(to)
	if !ok {
		return fmt.Errorf("vtrt/transport/local: unknown destination %s", to)
	}
	cp := append([]byte(nil), payload...)
	select {
	case dst.inbox <- frame{from: l.this, payload: cp}:
		return nil
	case <-l.ctx.Done():
		return fmt.Errorf("vtrt/transport/local: %s closed", l.this)
	case <-dst.ctx.Done():
		return fmt.Errorf("vtrt/transport/local: destination %s closed", to)
	}
}

func (l *Local) pump() {
	defer l.wg.Done()
	for {
		select {
		case fr := <-l.inbox:
			l.mu.RLock()
			recv := l.recv
			l.mu.RUnlock()
			if recv != nil {
				recv(fr.from, fr.payload)
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Close stops this node's delivery goroutine and waits for it to exit.
// Frames already in flight to this node from others may be silently
// dropped; graceful shutdown ordering is the caller's responsibility.
func (l *Local) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}

var _ transport.Transport = (*Local)(nil)
