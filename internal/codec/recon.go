package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const (
	CorrectionPayloadSize  = 40
	DiscrepancyPayloadSize = 40
)

// EncodeCorrection serializes a correction transition into a fixed-size payload.
func EncodeCorrection(dst []byte, c schema.Correction) []byte {
	if cap(dst) < CorrectionPayloadSize {
		dst = make([]byte, CorrectionPayloadSize)
	} else {
		dst = dst[:CorrectionPayloadSize]
	}

	copy(dst[0:16], c.DiscrepancyID[:])
	binary.LittleEndian.PutUint64(dst[16:24], c.OrderID)
	binary.LittleEndian.PutUint16(dst[24:26], uint16(c.From))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(c.To))
	binary.LittleEndian.PutUint16(dst[28:30], uint16(c.Evidence))
	binary.LittleEndian.PutUint16(dst[30:32], c.Flags)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(c.FilledQty))

	return dst
}

// DecodeCorrection parses a fixed-size correction payload.
func DecodeCorrection(src []byte) (schema.Correction, bool) {
	if len(src) < CorrectionPayloadSize {
		return schema.Correction{}, false
	}
	c := schema.Correction{
		OrderID:   binary.LittleEndian.Uint64(src[16:24]),
		From:      schema.OrderState(binary.LittleEndian.Uint16(src[24:26])),
		To:        schema.OrderState(binary.LittleEndian.Uint16(src[26:28])),
		Evidence:  schema.ExecKind(binary.LittleEndian.Uint16(src[28:30])),
		Flags:     binary.LittleEndian.Uint16(src[30:32]),
		FilledQty: schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
	}
	copy(c.DiscrepancyID[:], src[0:16])
	return c, true
}

// EncodeDiscrepancy serializes a discrepancy record into a fixed-size payload.
func EncodeDiscrepancy(dst []byte, d schema.Discrepancy) []byte {
	if cap(dst) < DiscrepancyPayloadSize {
		dst = make([]byte, DiscrepancyPayloadSize)
	} else {
		dst = dst[:DiscrepancyPayloadSize]
	}

	copy(dst[0:16], d.DiscrepancyID[:])
	binary.LittleEndian.PutUint64(dst[16:24], d.OrderID)
	binary.LittleEndian.PutUint16(dst[24:26], uint16(d.LocalState))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(d.Authority))
	binary.LittleEndian.PutUint16(dst[28:30], uint16(d.Resolution))
	binary.LittleEndian.PutUint16(dst[30:32], 0)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(d.DetectedAt))

	return dst
}

// DecodeDiscrepancy parses a fixed-size discrepancy payload.
func DecodeDiscrepancy(src []byte) (schema.Discrepancy, bool) {
	if len(src) < DiscrepancyPayloadSize {
		return schema.Discrepancy{}, false
	}
	d := schema.Discrepancy{
		OrderID:    binary.LittleEndian.Uint64(src[16:24]),
		LocalState: schema.OrderState(binary.LittleEndian.Uint16(src[24:26])),
		Authority:  schema.OrderState(binary.LittleEndian.Uint16(src[26:28])),
		Resolution: schema.DiscrepancyResolution(binary.LittleEndian.Uint16(src[28:30])),
		DetectedAt: int64(binary.LittleEndian.Uint64(src[32:40])),
	}
	copy(d.DiscrepancyID[:], src[0:16])
	return d, true
}
