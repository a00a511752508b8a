package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const (
	ReservationPayloadSize = 40
	BalanceSyncPayloadSize = 16
)

// EncodeReservation serializes a reservation mutation into a fixed-size payload.
func EncodeReservation(dst []byte, r schema.Reservation) []byte {
	if cap(dst) < ReservationPayloadSize {
		dst = make([]byte, ReservationPayloadSize)
	} else {
		dst = dst[:ReservationPayloadSize]
	}

	copy(dst[0:16], r.TokenID[:])
	binary.LittleEndian.PutUint64(dst[16:24], r.OrderID)
	binary.LittleEndian.PutUint32(dst[24:28], uint32(r.AssetID))
	binary.LittleEndian.PutUint16(dst[28:30], r.Flags)
	binary.LittleEndian.PutUint16(dst[30:32], 0)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(r.Amount))

	return dst
}

// DecodeReservation parses a fixed-size reservation payload.
func DecodeReservation(src []byte) (schema.Reservation, bool) {
	if len(src) < ReservationPayloadSize {
		return schema.Reservation{}, false
	}
	r := schema.Reservation{
		OrderID: binary.LittleEndian.Uint64(src[16:24]),
		AssetID: schema.AssetID(binary.LittleEndian.Uint32(src[24:28])),
		Flags:   binary.LittleEndian.Uint16(src[28:30]),
		Amount:  schema.Amount(int64(binary.LittleEndian.Uint64(src[32:40]))),
	}
	copy(r.TokenID[:], src[0:16])
	return r, true
}

// EncodeBalanceSync serializes a balance sync into a fixed-size payload.
func EncodeBalanceSync(dst []byte, b schema.BalanceSync) []byte {
	if cap(dst) < BalanceSyncPayloadSize {
		dst = make([]byte, BalanceSyncPayloadSize)
	} else {
		dst = dst[:BalanceSyncPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(b.AssetID))
	binary.LittleEndian.PutUint16(dst[4:6], b.Flags)
	binary.LittleEndian.PutUint16(dst[6:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(b.Free))

	return dst
}

// DecodeBalanceSync parses a fixed-size balance sync payload.
func DecodeBalanceSync(src []byte) (schema.BalanceSync, bool) {
	if len(src) < BalanceSyncPayloadSize {
		return schema.BalanceSync{}, false
	}
	return schema.BalanceSync{
		AssetID: schema.AssetID(binary.LittleEndian.Uint32(src[0:4])),
		Flags:   binary.LittleEndian.Uint16(src[4:6]),
		Free:    schema.Amount(int64(binary.LittleEndian.Uint64(src[8:16]))),
	}, true
}
