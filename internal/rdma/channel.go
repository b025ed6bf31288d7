package rdma

import (
	"fmt"
	"sync"

	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/pkg/wire"
)

// Channel is a two-process sub-communicator over an already-registered
// Handle, opened between this node and target for repeated typed traffic,
// with explicit lock/unlock/flush semantics.
//
// Paired channels complete every PutTyped/GetTypedInfo through the call's
// own continuation. Unpaired channels let continuation be nil on
// individual calls and drain outstanding ones with SyncLocal/SyncRemote
// instead.
type Channel struct {
	mgr    *Manager
	handle Handle
	target rt.NodeType
	paired bool

	mu        sync.Mutex
	pending   int
	drainWait []func()
}

// NewPutChannel opens a channel for typed puts from this node to h's home,
// addressed through target.
func (m *Manager) NewPutChannel(h Handle, target rt.NodeType, paired bool) *Channel {
	return &Channel{mgr: m, handle: h, target: target, paired: paired}
}

// NewGetChannel opens a channel for typed gets from h's home to this node,
// addressed through target.
func (m *Manager) NewGetChannel(h Handle, target rt.NodeType, paired bool) *Channel {
	return &Channel{mgr: m, handle: h, target: target, paired: paired}
}

// Target is the channel's non-target (or target) peer, depending on which
// end opened it.
func (c *Channel) Target() rt.NodeType { return c.target }

func (m *Manager) chanReqID() uint64 { return m.reqID() }

type chanLockReqMsg struct {
	Handle    uint64
	ReqID     uint64
	Requester rt.NodeType
}

type chanLockAckMsg struct {
	ReqID uint64
}

type chanUnlockReqMsg struct {
	Handle uint64
	ReqID  uint64
}

type chanUnlockAckMsg struct {
	ReqID uint64
}

// Lock acquires passive-target access to the channel's home region,
// running continuation once granted. Exclusive: if another node holds the
// lock, the request queues at the home and is granted in FIFO order once
// that node unlocks.
func (c *Channel) Lock(continuation func()) error {
	id := c.mgr.chanReqID()
	c.mgr.mu.Lock()
	c.mgr.pending[id] = continuation
	c.mgr.mu.Unlock()

	msg := chanLockReqMsg{Handle: c.handle.Identifier(), ReqID: id, Requester: c.mgr.ctx.This()}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.mgr.eng.Send(c.handle.HomeNode(), c.mgr.hChanLockReq, buf)
	return err
}

// Unlock releases passive-target access, running continuation once the
// home acknowledges the release and (if queued) grants the next waiter.
func (c *Channel) Unlock(continuation func()) error {
	id := c.mgr.chanReqID()
	if continuation != nil {
		c.mgr.mu.Lock()
		c.mgr.pending[id] = continuation
		c.mgr.mu.Unlock()
	}

	msg := chanUnlockReqMsg{Handle: c.handle.Identifier(), ReqID: id}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.mgr.eng.Send(c.handle.HomeNode(), c.mgr.hChanUnlockReq, buf)
	return err
}

func (m *Manager) onChanLockReq(payload []byte, from rt.NodeType) {
	var msg chanLockReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: lock request for unregistered handle %d", msg.Handle))
	}

	r.mu.Lock()
	grant := !r.locked
	if grant {
		r.locked = true
		r.lockHolder = msg.Requester
	} else {
		r.lockWaiters = append(r.lockWaiters, lockWaiter{requester: msg.Requester, reqID: msg.ReqID})
	}
	r.mu.Unlock()

	if grant {
		m.ackLock(msg.Requester, msg.ReqID)
	}
}

func (m *Manager) ackLock(to rt.NodeType, reqID uint64) {
	buf, err := wire.Marshal(chanLockAckMsg{ReqID: reqID})
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(to, m.hChanLockAck, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onChanLockAck(payload []byte, _ rt.NodeType) {
	var msg chanLockAckMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.completeReq(msg.ReqID, func(cont any) {
		if fn, ok := cont.(func()); ok && fn != nil {
			fn()
		}
	})
}

func (m *Manager) onChanUnlockReq(payload []byte, from rt.NodeType) {
	var msg chanUnlockReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: unlock request for unregistered handle %d", msg.Handle))
	}

	r.mu.Lock()
	r.locked = false
	var next *lockWaiter
	if len(r.lockWaiters) > 0 {
		w := r.lockWaiters[0]
		r.lockWaiters = r.lockWaiters[1:]
		r.locked = true
		r.lockHolder = w.requester
		next = &w
	}
	r.mu.Unlock()

	buf, err := wire.Marshal(chanUnlockAckMsg{ReqID: msg.ReqID})
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(from, m.hChanUnlockAck, buf); err != nil {
		panic(err)
	}
	if next != nil {
		m.ackLock(next.requester, next.reqID)
	}
}

func (m *Manager) onChanUnlockAck(payload []byte, _ rt.NodeType) {
	var msg chanUnlockAckMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.completeReq(msg.ReqID, func(cont any) {
		if fn, ok := cont.(func()); ok && fn != nil {
			fn()
		}
	})
}

// completeReq looks up and clears a pending continuation by reqID, running
// fn with it if one was registered.
func (m *Manager) completeReq(reqID uint64, fn func(cont any)) {
	m.mu.Lock()
	cont, ok := m.pending[reqID]
	delete(m.pending, reqID)
	m.mu.Unlock()
	if ok {
		fn(cont)
	}
}

type chanPutTypedMsg struct {
	Handle uint64
	ReqID  uint64
	Data   []byte
	Offset int64
}

type chanPutTypedAckMsg struct {
	ReqID uint64
}

// PutTyped ships ptr at offset to the channel's home region. In paired
// mode continuation runs once the home acknowledges absorbing the bytes;
// in unpaired mode pass a nil continuation and drain with SyncLocal or
// SyncRemote instead.
func (c *Channel) PutTyped(ptr []byte, offset int64, continuation func()) error {
	c.mgr.eng.Metrics().IncRDMA("put-typed")
	id := c.mgr.chanReqID()
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()

	cont := func() {
		if continuation != nil {
			continuation()
		}
		c.noteDrain()
	}
	c.mgr.mu.Lock()
	c.mgr.pending[id] = cont
	c.mgr.mu.Unlock()

	msg := chanPutTypedMsg{Handle: c.handle.Identifier(), ReqID: id, Data: ptr, Offset: offset}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.mgr.eng.Send(c.handle.HomeNode(), c.mgr.hChanPutTypedReq, buf)
	return err
}

func (m *Manager) onChanPutTypedReq(payload []byte, from rt.NodeType) {
	var msg chanPutTypedMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: typed put for unregistered handle %d", msg.Handle))
	}

	r.mu.Lock()
	end := msg.Offset + int64(len(msg.Data))
	if end > int64(len(r.data)) {
		grown := make([]byte, end)
		copy(grown, r.data)
		r.data = grown
	}
	copy(r.data[msg.Offset:], msg.Data)
	r.mu.Unlock()

	buf, err := wire.Marshal(chanPutTypedAckMsg{ReqID: msg.ReqID})
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(from, m.hChanPutTypedAck, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onChanPutTypedAck(payload []byte, _ rt.NodeType) {
	var msg chanPutTypedAckMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.completeReq(msg.ReqID, func(cont any) {
		if fn, ok := cont.(func()); ok && fn != nil {
			fn()
		}
	})
}

type chanGetTypedReqMsg struct {
	Handle uint64
	ReqID  uint64
	Target rt.NodeType
	Bytes  int
	Offset int64
}

type chanGetTypedReplyMsg struct {
	ReqID uint64
	Data  []byte
}

// GetTypedInfo fetches bytes at offset from the channel's home region.
// Same paired/unpaired continuation convention as PutTyped.
func (c *Channel) GetTypedInfo(count int, offset int64, continuation func([]byte)) error {
	c.mgr.eng.Metrics().IncRDMA("get-typed")
	id := c.mgr.chanReqID()
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()

	cont := func(data []byte) {
		if continuation != nil {
			continuation(data)
		}
		c.noteDrain()
	}
	c.mgr.mu.Lock()
	c.mgr.pending[id] = cont
	c.mgr.mu.Unlock()

	msg := chanGetTypedReqMsg{Handle: c.handle.Identifier(), ReqID: id, Target: c.mgr.ctx.This(), Bytes: count, Offset: offset}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.mgr.eng.Send(c.handle.HomeNode(), c.mgr.hChanGetTypedReq, buf)
	return err
}

func (m *Manager) onChanGetTypedReq(payload []byte, _ rt.NodeType) {
	var msg chanGetTypedReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: typed get for unregistered handle %d", msg.Handle))
	}

	r.mu.Lock()
	end := msg.Offset + int64(msg.Bytes)
	if end > int64(len(r.data)) {
		end = int64(len(r.data))
	}
	reply := append([]byte(nil), r.data[msg.Offset:end]...)
	r.mu.Unlock()

	buf, err := wire.Marshal(chanGetTypedReplyMsg{ReqID: msg.ReqID, Data: reply})
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(msg.Target, m.hChanGetTypedReply, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onChanGetTypedReply(payload []byte, _ rt.NodeType) {
	var msg chanGetTypedReplyMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.completeReq(msg.ReqID, func(cont any) {
		if fn, ok := cont.(func([]byte)); ok && fn != nil {
			fn(msg.Data)
		}
	})
}

// noteDrain decrements the channel's outstanding-op count and, once it
// reaches zero, fires every continuation queued by SyncLocal.
func (c *Channel) noteDrain() {
	c.mu.Lock()
	c.pending--
	var fire []func()
	if c.pending <= 0 {
		c.pending = 0
		fire = c.drainWait
		c.drainWait = nil
	}
	c.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

// SyncLocal runs continuation once every unpaired PutTyped/GetTypedInfo
// issued on this channel so far has been acknowledged. If nothing is
// outstanding, continuation runs immediately.
func (c *Channel) SyncLocal(continuation func()) {
	c.mu.Lock()
	if c.pending <= 0 {
		c.mu.Unlock()
		if continuation != nil {
			continuation()
		}
		return
	}
	c.drainWait = append(c.drainWait, continuation)
	c.mu.Unlock()
}

type chanSyncReqMsg struct {
	Handle uint64
	ReqID  uint64
}

type chanSyncAckMsg struct {
	ReqID uint64
}

// SyncRemote asks the channel's home node to confirm it has applied every
// typed op sent to it before this call, running continuation on the ack.
// Ordered, single-pair delivery means the home processes all prior
// puts/gets before this request arrives.
func (c *Channel) SyncRemote(continuation func()) error {
	id := c.mgr.chanReqID()
	c.mgr.mu.Lock()
	c.mgr.pending[id] = continuation
	c.mgr.mu.Unlock()

	msg := chanSyncReqMsg{Handle: c.handle.Identifier(), ReqID: id}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.mgr.eng.Send(c.handle.HomeNode(), c.mgr.hChanSyncReq, buf)
	return err
}

func (m *Manager) onChanSyncReq(payload []byte, from rt.NodeType) {
	var msg chanSyncReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	buf, err := wire.Marshal(chanSyncAckMsg{ReqID: msg.ReqID})
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(from, m.hChanSyncAck, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onChanSyncAck(payload []byte, _ rt.NodeType) {
	var msg chanSyncAckMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.completeReq(msg.ReqID, func(cont any) {
		if fn, ok := cont.(func()); ok && fn != nil {
			fn()
		}
	})
}

