package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const ExecReportPayloadSize = 64

// EncodeExecReport serializes an execution report into a fixed-size payload.
func EncodeExecReport(dst []byte, r schema.ExecReport) []byte {
	if cap(dst) < ExecReportPayloadSize {
		dst = make([]byte, ExecReportPayloadSize)
	} else {
		dst = dst[:ExecReportPayloadSize]
	}

	copy(dst[0:16], r.ExecID[:])
	binary.LittleEndian.PutUint64(dst[16:24], r.OrderID)
	binary.LittleEndian.PutUint32(dst[24:28], uint32(r.SymbolID))
	binary.LittleEndian.PutUint16(dst[28:30], uint16(r.Kind))
	binary.LittleEndian.PutUint16(dst[30:32], r.Reason)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(r.Price))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(r.Qty))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(r.LeavesQty))
	binary.LittleEndian.PutUint64(dst[56:64], uint64(r.TsExchange))

	return dst
}

// DecodeExecReport parses a fixed-size execution report payload.
func DecodeExecReport(src []byte) (schema.ExecReport, bool) {
	if len(src) < ExecReportPayloadSize {
		return schema.ExecReport{}, false
	}
	r := schema.ExecReport{
		OrderID:    binary.LittleEndian.Uint64(src[16:24]),
		SymbolID:   schema.SymbolID(binary.LittleEndian.Uint32(src[24:28])),
		Kind:       schema.ExecKind(binary.LittleEndian.Uint16(src[28:30])),
		Reason:     binary.LittleEndian.Uint16(src[30:32]),
		Price:      schema.Price(int64(binary.LittleEndian.Uint64(src[32:40]))),
		Qty:        schema.Quantity(int64(binary.LittleEndian.Uint64(src[40:48]))),
		LeavesQty:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[48:56]))),
		TsExchange: int64(binary.LittleEndian.Uint64(src[56:64])),
	}
	copy(r.ExecID[:], src[0:16])
	return r, true
}
