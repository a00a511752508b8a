package ledger

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"main/internal/schema"
)

var ErrChecksumMismatch = errors.New("ledger checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes segment records sequentially from a stream.
type Reader struct {
	src  *bufio.Reader
	opts ReaderOptions

	// scratch holds one full record (header, payload, checksum) so the
	// checksum can run over a single contiguous span.
	scratch []byte
}

// NewReader wraps an io.Reader with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		src:     bufio.NewReader(r),
		opts:    opts,
		scratch: make([]byte, recordHeaderSize, recordHeaderSize+recordChecksumSize),
	}
}

// Next returns the next record header and payload. The payload slice is
// reused and only valid until the following call.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	n, err := io.ReadFull(r.src, r.scratch[:recordHeaderSize])
	if err != nil {
		if err == io.EOF && n == 0 {
			return schema.EventHeader{}, nil, io.EOF
		}
		return schema.EventHeader{}, nil, err
	}

	header, payloadLen, err := decodeRecordHeader(r.scratch)
	if err != nil {
		return header, nil, err
	}
	if uint64(payloadLen) > maxPayloadLen ||
		(r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize)) {
		return header, nil, ErrPayloadTooLarge
	}

	total := recordHeaderSize + int(payloadLen) + recordChecksumSize
	if cap(r.scratch) < total {
		grown := make([]byte, total)
		copy(grown, r.scratch[:recordHeaderSize])
		r.scratch = grown
	}
	r.scratch = r.scratch[:total]
	if _, err := io.ReadFull(r.src, r.scratch[recordHeaderSize:]); err != nil {
		return header, nil, err
	}

	payload := r.scratch[recordHeaderSize : recordHeaderSize+int(payloadLen)]
	if !r.opts.DisableChecksum {
		stored := binary.LittleEndian.Uint32(r.scratch[total-recordChecksumSize:])
		if checksum(r.scratch[:recordHeaderSize], payload) != stored {
			return header, nil, ErrChecksumMismatch
		}
	}
	return header, payload, nil
}
