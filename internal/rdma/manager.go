package rdma

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/messaging"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/pkg/wire"
)

// GetFn serves a get request at a region's home node and returns the bytes
// to ship back, sliced from whatever backing storage fn chooses.
type GetFn func(msg []byte, bytes int, offset int64, tag uint64, direct bool) []byte

// PutFn absorbs a put request's bytes at a region's home node.
type PutFn func(msg []byte, ptr []byte, bytes int, offset int64, tag uint64, direct bool)

type region struct {
	mu    sync.Mutex
	data  []byte
	getFn GetFn
	putFn PutFn

	locked      bool
	lockHolder  rt.NodeType
	lockWaiters []lockWaiter
}

// lockWaiter is a queued Channel.Lock request, granted in FIFO order as the
// holder unlocks.
type lockWaiter struct {
	requester rt.NodeType
	reqID     uint64
}

// Manager is the per-node RDMA manager.
type Manager struct {
	ctx *rt.Context
	eng *messaging.Engine

	mu       sync.RWMutex
	regions  map[uint64]*region
	pending  map[uint64]any // reqID -> func([]byte) (get) or func() (put)
	nextID   uint64
	nextReqID uint64

	hGetReq   handler.ID
	hGetReply handler.ID
	hPutReq   handler.ID
	hPutAck   handler.ID

	hChanLockReq      handler.ID
	hChanLockAck      handler.ID
	hChanUnlockReq    handler.ID
	hChanUnlockAck    handler.ID
	hChanPutTypedReq  handler.ID
	hChanPutTypedAck  handler.ID
	hChanGetTypedReq  handler.ID
	hChanGetTypedReply handler.ID
	hChanSyncReq      handler.ID
	hChanSyncAck      handler.ID
}

// New constructs an RDMA manager and registers its wire handlers.
func New(ctx *rt.Context, reg *handler.Registry, eng *messaging.Engine) *Manager {
	m := &Manager{
		ctx:     ctx,
		eng:     eng,
		regions: make(map[uint64]*region),
		pending: make(map[uint64]any),
	}
	m.hGetReq = reg.Register(handler.KindRDMAGet, "rdma.getReq", 0, false, false, false, m.onGetReq)
	m.hGetReply = reg.Register(handler.KindRDMAGet, "rdma.getReply", 0, false, false, false, m.onGetReply)
	m.hPutReq = reg.Register(handler.KindRDMAPut, "rdma.putReq", 0, false, false, false, m.onPutReq)
	m.hPutAck = reg.Register(handler.KindRDMAPut, "rdma.putAck", 0, false, false, false, m.onPutAck)

	m.hChanLockReq = reg.Register(handler.KindRDMAGet, "rdma.chan.lockReq", 0, false, false, false, m.onChanLockReq)
	m.hChanLockAck = reg.Register(handler.KindRDMAGet, "rdma.chan.lockAck", 0, false, false, false, m.onChanLockAck)
	m.hChanUnlockReq = reg.Register(handler.KindRDMAGet, "rdma.chan.unlockReq", 0, false, false, false, m.onChanUnlockReq)
	m.hChanUnlockAck = reg.Register(handler.KindRDMAGet, "rdma.chan.unlockAck", 0, false, false, false, m.onChanUnlockAck)
	m.hChanPutTypedReq = reg.Register(handler.KindRDMAPut, "rdma.chan.putTypedReq", 0, false, false, false, m.onChanPutTypedReq)
	m.hChanPutTypedAck = reg.Register(handler.KindRDMAPut, "rdma.chan.putTypedAck", 0, false, false, false, m.onChanPutTypedAck)
	m.hChanGetTypedReq = reg.Register(handler.KindRDMAGet, "rdma.chan.getTypedReq", 0, false, false, false, m.onChanGetTypedReq)
	m.hChanGetTypedReply = reg.Register(handler.KindRDMAGet, "rdma.chan.getTypedReply", 0, false, false, false, m.onChanGetTypedReply)
	m.hChanSyncReq = reg.Register(handler.KindRDMAGet, "rdma.chan.syncReq", 0, false, false, false, m.onChanSyncReq)
	m.hChanSyncAck = reg.Register(handler.KindRDMAGet, "rdma.chan.syncAck", 0, false, false, false, m.onChanSyncAck)
	return m
}

// Register creates a local window over data, homed at this node.
func (m *Manager) Register(data []byte) Handle {
	id := atomic.AddUint64(&m.nextID, 1) - 1
	m.mu.Lock()
	m.regions[id] = &region{data: data}
	m.mu.Unlock()
	return Make(true, false, false, OpNone, m.ctx.This(), id)
}

// RegisterCollective creates a shared window over the communicator: every
// node calls this with its own local slice and the agreed total size, and
// all resulting handles share the same identifier bits. A caller addresses
// a particular node's slice via Handle.WithHome.
func (m *Manager) RegisterCollective(localData []byte, totalBytes int) Handle {
	id := atomic.AddUint64(&m.nextID, 1) - 1
	m.mu.Lock()
	m.regions[id] = &region{data: localData}
	m.mu.Unlock()
	return Make(true, true, false, OpNone, m.ctx.This(), id)
}

// AssociateGet installs fn as h's get callback, run at h's home node to
// serve get requests.
func (m *Manager) AssociateGet(h Handle, fn GetFn) {
	m.mu.RLock()
	r, ok := m.regions[h.Identifier()]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: associate_get on unregistered handle %d", h.Identifier()))
	}
	r.mu.Lock()
	r.getFn = fn
	r.mu.Unlock()
}

// AssociatePut installs fn as h's put callback, run at h's home node to
// absorb put requests.
func (m *Manager) AssociatePut(h Handle, fn PutFn) {
	m.mu.RLock()
	r, ok := m.regions[h.Identifier()]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: associate_put on unregistered handle %d", h.Identifier()))
	}
	r.mu.Lock()
	r.putFn = fn
	r.mu.Unlock()
}

func (m *Manager) reqID() uint64 {
	return uint64(m.ctx.This())<<48 | atomic.AddUint64(&m.nextReqID, 1)
}

type getReqMsg struct {
	Handle uint64
	ReqID  uint64
	Target rt.NodeType
	Bytes  int
	Offset int64
	Tag    uint64
}

type getReplyMsg struct {
	ReqID uint64
	Data  []byte
}

// Get requests bytes from h's home node and, once they arrive, runs
// continuation on target's node with the received buffer. The common case
// has target equal to the requesting node.
func (m *Manager) Get(h Handle, target rt.NodeType, bytes int, offset int64, tag uint64, continuation func([]byte)) error {
	m.eng.Metrics().IncRDMA("get")
	id := m.reqID()
	m.mu.Lock()
	m.pending[id] = continuation
	m.mu.Unlock()

	msg := getReqMsg{Handle: h.Identifier(), ReqID: id, Target: target, Bytes: bytes, Offset: offset, Tag: tag}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = m.eng.Send(h.HomeNode(), m.hGetReq, buf)
	return err
}

func (m *Manager) onGetReq(payload []byte, from rt.NodeType) {
	var msg getReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: get request for unregistered handle %d", msg.Handle))
	}
	r.mu.Lock()
	fn := r.getFn
	data := r.data
	r.mu.Unlock()

	var reply []byte
	if fn != nil {
		reply = fn(nil, msg.Bytes, msg.Offset, msg.Tag, false)
	} else {
		end := msg.Offset + int64(msg.Bytes)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		reply = append([]byte(nil), data[msg.Offset:end]...)
	}

	out := getReplyMsg{ReqID: msg.ReqID, Data: reply}
	buf, err := wire.Marshal(out)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(msg.Target, m.hGetReply, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onGetReply(payload []byte, _ rt.NodeType) {
	var msg getReplyMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.Lock()
	cont, ok := m.pending[msg.ReqID]
	delete(m.pending, msg.ReqID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if fn, ok := cont.(func([]byte)); ok {
		fn(msg.Data)
	}
}

type putReqMsg struct {
	Handle uint64
	ReqID  uint64
	Data   []byte
	Offset int64
	Tag    uint64
}

type putAckMsg struct {
	ReqID uint64
}

// Put ships ptr's bytes to h's home node, which absorbs them via its put
// callback (or a plain copy into the registered region if none is
// associated), then runs continuation on this node once acknowledged.
func (m *Manager) Put(h Handle, ptr []byte, offset int64, tag uint64, continuation func()) error {
	m.eng.Metrics().IncRDMA("put")
	id := m.reqID()
	if continuation != nil {
		m.mu.Lock()
		m.pending[id] = continuation
		m.mu.Unlock()
	}

	msg := putReqMsg{Handle: h.Identifier(), ReqID: id, Data: ptr, Offset: offset, Tag: tag}
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = m.eng.Send(h.HomeNode(), m.hPutReq, buf)
	return err
}

func (m *Manager) onPutReq(payload []byte, from rt.NodeType) {
	var msg putReqMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.RLock()
	r, ok := m.regions[msg.Handle]
	m.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/rdma: put request for unregistered handle %d", msg.Handle))
	}
	r.mu.Lock()
	fn := r.putFn
	if fn == nil {
		end := msg.Offset + int64(len(msg.Data))
		if end > int64(len(r.data)) {
			grown := make([]byte, end)
			copy(grown, r.data)
			r.data = grown
		}
		copy(r.data[msg.Offset:], msg.Data)
	}
	r.mu.Unlock()
	if fn != nil {
		fn(nil, msg.Data, len(msg.Data), msg.Offset, msg.Tag, false)
	}

	ack := putAckMsg{ReqID: msg.ReqID}
	buf, err := wire.Marshal(ack)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(from, m.hPutAck, buf); err != nil {
		panic(err)
	}
}

func (m *Manager) onPutAck(payload []byte, _ rt.NodeType) {
	var msg putAckMsg
	if err := wire.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	m.mu.Lock()
	cont, ok := m.pending[msg.ReqID]
	delete(m.pending, msg.ReqID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if fn, ok := cont.(func()); ok {
		fn()
	}
}
