package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"main/internal/schema"
)

// On-disk record: fixed header, payload, then a CRC32C over both.
const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 56
	recordChecksumSize        = 4

	offMagic        = 0
	offRecordVer    = 4
	offHeaderSize   = 6
	offEventType    = 8
	offEventVersion = 10
	offSource       = 12
	offFlags        = 14
	offPayloadLen   = 16
	offSeq          = 20
	offTsEvent      = 28
	offTsRecv       = 36
	offTraceID      = 44
	offReserved     = 52
)

var (
	recordMagic = [4]byte{'L', 'D', 'G', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("ledger invalid magic")
	ErrUnsupportedRecordVer    = errors.New("ledger unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("ledger invalid header size")
)

func encodeRecordHeader(dst []byte, header schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[offMagic:], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[offRecordVer:], recordVersion)
	binary.LittleEndian.PutUint16(dst[offHeaderSize:], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[offEventType:], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[offEventVersion:], header.Version)
	binary.LittleEndian.PutUint16(dst[offSource:], header.Source)
	binary.LittleEndian.PutUint16(dst[offFlags:], header.Flags)
	binary.LittleEndian.PutUint32(dst[offPayloadLen:], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[offSeq:], header.Seq)
	binary.LittleEndian.PutUint64(dst[offTsEvent:], uint64(header.TsEvent))
	binary.LittleEndian.PutUint64(dst[offTsRecv:], uint64(header.TsRecv))
	binary.LittleEndian.PutUint64(dst[offTraceID:], header.TraceID)
	binary.LittleEndian.PutUint32(dst[offReserved:], 0)
}

func decodeRecordHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[offMagic:offMagic+4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(src[offRecordVer:]) != recordVersion {
		return schema.EventHeader{}, 0, ErrUnsupportedRecordVer
	}
	if binary.LittleEndian.Uint16(src[offHeaderSize:]) != recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	header := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[offEventType:])),
		Version: binary.LittleEndian.Uint16(src[offEventVersion:]),
		Source:  binary.LittleEndian.Uint16(src[offSource:]),
		Flags:   binary.LittleEndian.Uint16(src[offFlags:]),
		Seq:     binary.LittleEndian.Uint64(src[offSeq:]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[offTsEvent:])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[offTsRecv:])),
		TraceID: binary.LittleEndian.Uint64(src[offTraceID:]),
	}
	return header, binary.LittleEndian.Uint32(src[offPayloadLen:]), nil
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}
