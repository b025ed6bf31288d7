package messaging

import (
	"encoding/binary"
	"fmt"

	"github.com/dreamware/vtrt/internal/handler"
	"github.com/dreamware/vtrt/internal/rt"
)

// headerSize is the fixed-width wire encoding of handler.Envelope, a
// compile-time constant so the header is the same size on every node.
// Field order matches declaration order in handler.Envelope.
const headerSize = 4 + 4 + 2 + 4 + 8 + 8 + 8 + 8

// encodeFrame prepends env's wire header to payload, producing the single
// contiguous buffer transport.Transport.Send ships.
func encodeFrame(env handler.Envelope, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(env.Dest)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(env.Handler))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(env.Type))
	binary.LittleEndian.PutUint32(buf[10:14], env.RefCnt)
	binary.LittleEndian.PutUint64(buf[14:22], uint64(env.Epoch))
	binary.LittleEndian.PutUint64(buf[22:30], env.Tag)
	binary.LittleEndian.PutUint64(buf[30:38], uint64(env.Group))
	binary.LittleEndian.PutUint64(buf[38:46], env.TraceEvent)
	copy(buf[headerSize:], payload)
	return buf
}

// decodeFrame is encodeFrame's inverse.
func decodeFrame(buf []byte) (handler.Envelope, []byte, error) {
	if len(buf) < headerSize {
		return handler.Envelope{}, nil, fmt.Errorf("vtrt/messaging: frame too short (%d bytes, want >= %d)", len(buf), headerSize)
	}
	env := handler.Envelope{
		Dest:       rt.NodeType(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Handler:    handler.ID(binary.LittleEndian.Uint32(buf[4:8])),
		Type:       handler.TypeBits(binary.LittleEndian.Uint16(buf[8:10])),
		RefCnt:     binary.LittleEndian.Uint32(buf[10:14]),
		Epoch:      rt.EpochID(binary.LittleEndian.Uint64(buf[14:22])),
		Tag:        binary.LittleEndian.Uint64(buf[22:30]),
		Group:      handler.GroupID(binary.LittleEndian.Uint64(buf[30:38])),
		TraceEvent: binary.LittleEndian.Uint64(buf[38:46]),
	}
	return env, buf[headerSize:], nil
}
