package messaging

import (
	"encoding/binary"
	"fmt"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/rt"
)

// Control messages implement epoch.Network: wave-submit / continue /
// ds-ack / terminated traffic, carried as rt.NoEpoch-stamped TypeTerm
// frames so the detection protocol is never itself subject to termination
// accounting.
type controlKind uint8

const (
	ctrlWaveSubmit controlKind = iota
	ctrlContinue
	ctrlDSAck
	ctrlTerminated
)

func encodeControl(kind controlKind, e rt.EpochID, a, b uint64) []byte {
	buf := make([]byte, 1+8+8+8)
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(e))
	binary.LittleEndian.PutUint64(buf[9:17], a)
	binary.LittleEndian.PutUint64(buf[17:25], b)
	return buf
}

func decodeControl(buf []byte) (kind controlKind, e rt.EpochID, a, b uint64, err error) {
	if len(buf) < 25 {
		return 0, 0, 0, 0, fmt.Errorf("vtrt/messaging: control frame too short")
	}
	kind = controlKind(buf[0])
	e = rt.EpochID(binary.LittleEndian.Uint64(buf[1:9]))
	a = binary.LittleEndian.Uint64(buf[9:17])
	b = binary.LittleEndian.Uint64(buf[17:25])
	return kind, e, a, b, nil
}

func (e *Engine) sendControl(to rt.NodeType, kind controlKind, epochID rt.EpochID, a, b uint64) {
	env := handler.Envelope{Dest: to, Epoch: rt.NoEpoch, Type: handler.TypeTerm, RefCnt: 1}
	payload := encodeControl(kind, epochID, a, b)

	if to == e.ctx.This() {
		e.dispatchControl(env, payload, e.ctx.This())
		return
	}
	if err := e.tr.Send(to, encodeFrame(env, payload)); err != nil {
		panic(fmt.Sprintf("vtrt/messaging: control send to %s: %v", to, err))
	}
}

func (e *Engine) dispatchControl(_ handler.Envelope, payload []byte, from rt.NodeType) {
	kind, epochID, a, b, err := decodeControl(payload)
	if err != nil {
		panic(err)
	}
	switch kind {
	case ctrlWaveSubmit:
		e.em.HandleWaveSubmit(from, epochID, a, b)
	case ctrlContinue:
		e.em.HandleContinue(epochID)
	case ctrlDSAck:
		e.em.HandleDSAck(from, epochID)
	case ctrlTerminated:
		e.em.HandleTerminated(epochID)
	}
}

// SendWaveSubmit implements epoch.Network.
func (e *Engine) SendWaveSubmit(to rt.NodeType, epochID rt.EpochID, prod, cons uint64) {
	e.sendControl(to, ctrlWaveSubmit, epochID, prod, cons)
}

// SendContinue implements epoch.Network.
func (e *Engine) SendContinue(to rt.NodeType, epochID rt.EpochID) {
	e.sendControl(to, ctrlContinue, epochID, 0, 0)
}

// SendDSAck implements epoch.Network.
func (e *Engine) SendDSAck(to rt.NodeType, epochID rt.EpochID) {
	e.sendControl(to, ctrlDSAck, epochID, 0, 0)
}

// SendTerminated implements epoch.Network.
func (e *Engine) SendTerminated(to rt.NodeType, epochID rt.EpochID) {
	e.sendControl(to, ctrlTerminated, epochID, 0, 0)
}
