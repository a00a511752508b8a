package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const RiskVerdictPayloadSize = 40

// EncodeRiskVerdict serializes a risk verdict into a fixed-size payload.
func EncodeRiskVerdict(dst []byte, v schema.RiskVerdict) []byte {
	if cap(dst) < RiskVerdictPayloadSize {
		dst = make([]byte, RiskVerdictPayloadSize)
	} else {
		dst = dst[:RiskVerdictPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], v.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], uint32(v.AccountID))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(v.StrategyID))
	binary.LittleEndian.PutUint32(dst[16:20], uint32(v.SymbolID))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(v.VenueID))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(v.Action))
	binary.LittleEndian.PutUint16(dst[24:26], uint16(v.Reason))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(v.Dimension))
	binary.LittleEndian.PutUint32(dst[28:32], 0)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(v.Notional))

	return dst
}

// DecodeRiskVerdict parses a fixed-size risk verdict payload.
func DecodeRiskVerdict(src []byte) (schema.RiskVerdict, bool) {
	if len(src) < RiskVerdictPayloadSize {
		return schema.RiskVerdict{}, false
	}
	return schema.RiskVerdict{
		OrderID:    binary.LittleEndian.Uint64(src[0:8]),
		AccountID:  schema.AccountID(binary.LittleEndian.Uint32(src[8:12])),
		StrategyID: schema.StrategyID(binary.LittleEndian.Uint32(src[12:16])),
		SymbolID:   schema.SymbolID(binary.LittleEndian.Uint32(src[16:20])),
		VenueID:    schema.VenueID(binary.LittleEndian.Uint16(src[20:22])),
		Action:     schema.RiskAction(binary.LittleEndian.Uint16(src[22:24])),
		Reason:     schema.RiskReason(binary.LittleEndian.Uint16(src[24:26])),
		Dimension:  schema.LimitDimension(binary.LittleEndian.Uint16(src[26:28])),
		Notional:   schema.Notional(int64(binary.LittleEndian.Uint64(src[32:40]))),
	}, true
}
