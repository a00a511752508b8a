package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const OrderNewPayloadSize = 80

// EncodeOrderNew serializes an order registration into a fixed-size payload.
func EncodeOrderNew(dst []byte, o schema.OrderNew) []byte {
	if cap(dst) < OrderNewPayloadSize {
		dst = make([]byte, OrderNewPayloadSize)
	} else {
		dst = dst[:OrderNewPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], o.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], uint32(o.AccountID))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(o.StrategyID))
	binary.LittleEndian.PutUint32(dst[16:20], uint32(o.SymbolID))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(o.VenueID))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(o.Side))
	binary.LittleEndian.PutUint16(dst[24:26], uint16(o.Type))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(o.TimeInForce))
	binary.LittleEndian.PutUint16(dst[28:30], o.Flags)
	binary.LittleEndian.PutUint16(dst[30:32], 0)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(o.Price))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(o.Qty))
	copy(dst[48:80], o.ClientOrderID[:])

	return dst
}

// DecodeOrderNew parses a fixed-size order registration payload.
func DecodeOrderNew(src []byte) (schema.OrderNew, bool) {
	if len(src) < OrderNewPayloadSize {
		return schema.OrderNew{}, false
	}
	o := schema.OrderNew{
		OrderID:     binary.LittleEndian.Uint64(src[0:8]),
		AccountID:   schema.AccountID(binary.LittleEndian.Uint32(src[8:12])),
		StrategyID:  schema.StrategyID(binary.LittleEndian.Uint32(src[12:16])),
		SymbolID:    schema.SymbolID(binary.LittleEndian.Uint32(src[16:20])),
		VenueID:     schema.VenueID(binary.LittleEndian.Uint16(src[20:22])),
		Side:        schema.OrderSide(binary.LittleEndian.Uint16(src[22:24])),
		Type:        schema.OrderType(binary.LittleEndian.Uint16(src[24:26])),
		TimeInForce: schema.TimeInForce(binary.LittleEndian.Uint16(src[26:28])),
		Flags:       binary.LittleEndian.Uint16(src[28:30]),
		Price:       schema.Price(int64(binary.LittleEndian.Uint64(src[32:40]))),
		Qty:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[40:48]))),
	}
	copy(o.ClientOrderID[:], src[48:80])
	return o, true
}
