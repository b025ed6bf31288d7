package messaging

import (
	"encoding/binary"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/tree"
)

// wrapBroadcast prefixes payload with the 4-byte root node, so every
// receiving node (not just the sender) knows which tree shape to forward
// along.
func wrapBroadcast(root rt.NodeType, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(root)))
	copy(buf[4:], payload)
	return buf
}

func unwrapBroadcast(buf []byte) (rt.NodeType, []byte) {
	root := rt.NodeType(int32(binary.LittleEndian.Uint32(buf[0:4])))
	return root, buf[4:]
}

// Broadcast fans payload out over the binomial spanning tree rooted at
// this node. The sender does not dispatch to itself, only descendants do.
func (e *Engine) Broadcast(h handler.ID, payload []byte) {
	shape := tree.RootedAt(e.ctx.This(), e.ctx.NumNodes(), e.ctx.This())
	e.fanOut(shape, e.ctx.This(), h, payload)
}

// SendInGroup multicasts payload over group g's previously installed tree.
// RegisterGroup must have been called for g already.
func (e *Engine) SendInGroup(g handler.GroupID, h handler.ID, payload []byte) {
	e.mu.Lock()
	shape := e.groups[g]
	e.mu.Unlock()
	if shape == nil {
		panic("vtrt/messaging: send_in_group on unregistered group")
	}
	e.fanOut(shape, shape.Root(), h, payload)
}

// fanOut is the sender's initial hop, shared by Broadcast and SendInGroup;
// forwarding nodes use fanOutFrom. Each hop is itself a send, counted for
// termination.
func (e *Engine) fanOut(shape *tree.Shape, root rt.NodeType, h handler.ID, payload []byte) {
	env := e.stampEpoch(handler.Envelope{Handler: h, Type: handler.TypeBroadcast, RefCnt: 1})
	wrapped := wrapBroadcast(root, payload)
	for _, child := range shape.Children() {
		childEnv := env
		childEnv.Dest = child
		e.em.NotifySend(childEnv.Epoch)
		e.m.IncSent("broadcast")
		if child == e.ctx.This() {
			e.sch.Enqueue(func() { e.dispatchBroadcast(childEnv, wrapped, e.ctx.This()) })
			continue
		}
		if err := e.tr.Send(child, encodeFrame(childEnv, wrapped)); err != nil {
			panic(err) // transport error is fatal.
		}
	}
}

// dispatchBroadcast runs on every node that is not the original sender:
// dispatch the user handler exactly once locally, then forward to this
// node's own children in the tree rooted at the original sender.
func (e *Engine) dispatchBroadcast(env handler.Envelope, wrapped []byte, from rt.NodeType) {
	root, inner := unwrapBroadcast(wrapped)
	e.em.NotifyRecv(env.Epoch)
	e.m.IncRecv("broadcast")
	e.reg.Dispatch(env.Handler, inner, from)

	shape := tree.RootedAt(e.ctx.This(), e.ctx.NumNodes(), root)
	if shape.NumChildren() == 0 {
		return
	}
	e.fanOutFrom(shape, root, env.Handler, env.Epoch, inner)
}

// fanOutFrom forwards an already-received broadcast further down the tree,
// preserving the original handler and epoch rather than re-stamping from
// the ambient epoch (the forwarding node did not itself open the epoch).
func (e *Engine) fanOutFrom(shape *tree.Shape, root rt.NodeType, h handler.ID, epochID rt.EpochID, payload []byte) {
	env := handler.Envelope{Handler: h, Type: handler.TypeBroadcast, Epoch: epochID, RefCnt: 1}
	wrapped := wrapBroadcast(root, payload)
	for _, child := range shape.Children() {
		childEnv := env
		childEnv.Dest = child
		e.em.NotifySend(epochID)
		e.m.IncSent("broadcast")
		if err := e.tr.Send(child, encodeFrame(childEnv, wrapped)); err != nil {
			panic(err)
		}
	}
}
