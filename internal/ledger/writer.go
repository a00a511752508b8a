package ledger

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/schema"
)

var (
	ErrQueueFull       = errors.New("ledger queue full")
	ErrClosed          = errors.New("ledger writer closed")
	ErrNotStarted      = errors.New("ledger writer not started")
	ErrAlreadyStarted  = errors.New("ledger writer already started")
	ErrPayloadTooLarge = errors.New("ledger payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

type pendingRecord struct {
	header  schema.EventHeader
	payload []byte
}

// Writer persists ledger records to rotating segment files. Appends go
// through a bounded queue so the audit hot path never blocks on disk; the
// queue handing over is the durability contract the in-memory ledger
// relies on (accepted means it will reach the current segment).
type Writer struct {
	cfg   WriterConfig
	queue chan pendingRecord
	done  sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool

	errOnce  sync.Once
	firstErr atomic.Value
}

// NewWriter validates the config and prepares the segment directory.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg:   cfg,
		queue: make(chan pendingRecord, cfg.QueueSize),
	}, nil
}

// Start launches the persistence loop.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		w.loop(ctx)
	}()
	return nil
}

// Close rejects further appends, drains the queue, and flushes the open
// segment. It returns the first persistence error, if any.
func (w *Writer) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		close(w.queue)
	}
	w.done.Wait()
	return w.Err()
}

// Err reports the first persistence error the loop hit.
func (w *Writer) Err() error {
	if v := w.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (w *Writer) fail(err error) {
	if err == nil {
		return
	}
	w.errOnce.Do(func() { w.firstErr.Store(err) })
}

// TryAppend hands a record to the persistence queue without blocking.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	if w.cfg.CopyPayload && len(payload) > 0 {
		payload = append([]byte(nil), payload...)
	}

	select {
	case w.queue <- pendingRecord{header: header, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Writer) loop(ctx context.Context) {
	sink := &segmentSink{cfg: w.cfg, headerBuf: make([]byte, recordHeaderSize)}
	defer func() {
		if err := sink.close(); err != nil {
			w.fail(err)
		}
	}()

	flushC, stopFlush := maybeTick(w.cfg.FlushInterval)
	syncC, stopSync := maybeTick(w.cfg.SyncInterval)
	defer stopFlush()
	defer stopSync()

	for {
		select {
		case <-ctx.Done():
			w.drain(sink)
			return
		case rec, ok := <-w.queue:
			if !ok {
				return
			}
			if err := sink.write(rec); err != nil {
				w.fail(err)
				return
			}
		case <-flushC:
			if err := sink.flush(); err != nil {
				w.fail(err)
				return
			}
		case <-syncC:
			if err := sink.sync(); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

// drain writes whatever is already queued, without waiting for more.
func (w *Writer) drain(sink *segmentSink) {
	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				return
			}
			if err := sink.write(rec); err != nil {
				w.fail(err)
				return
			}
		default:
			return
		}
	}
}

func maybeTick(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// segmentSink owns the currently open segment file and its rotation.
type segmentSink struct {
	cfg       WriterConfig
	headerBuf []byte

	file     *os.File
	buf      *bufio.Writer
	written  int64
	openedAt time.Time
	nextID   uint64
}

func (s *segmentSink) write(rec pendingRecord) error {
	if uint64(len(rec.payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	size := int64(recordHeaderSize + len(rec.payload) + recordChecksumSize)
	if s.needsRotation(now, size) {
		if err := s.close(); err != nil {
			return err
		}
		if err := s.open(now); err != nil {
			return err
		}
	}

	encodeRecordHeader(s.headerBuf, rec.header, len(rec.payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(s.headerBuf, rec.payload))

	if _, err := s.buf.Write(s.headerBuf); err != nil {
		return err
	}
	if len(rec.payload) > 0 {
		if _, err := s.buf.Write(rec.payload); err != nil {
			return err
		}
	}
	if _, err := s.buf.Write(sum[:]); err != nil {
		return err
	}
	s.written += size
	return nil
}

func (s *segmentSink) needsRotation(now time.Time, nextSize int64) bool {
	switch {
	case s.file == nil:
		return true
	case s.cfg.SegmentMaxBytes > 0 && s.written+nextSize > s.cfg.SegmentMaxBytes:
		return true
	case s.cfg.SegmentMaxDuration > 0 && now.Sub(s.openedAt) >= s.cfg.SegmentMaxDuration:
		return true
	}
	return false
}

func (s *segmentSink) open(now time.Time) error {
	stamp := now.Format("20060102-150405")
	for {
		s.nextID++
		name := fmt.Sprintf("%s-%s-%06d.ldg", s.cfg.FilePrefix, stamp, s.nextID)
		file, err := os.OpenFile(filepath.Join(s.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		s.file = file
		s.buf = bufio.NewWriterSize(file, s.cfg.BufferSize)
		s.written = 0
		s.openedAt = now
		return nil
	}
}

func (s *segmentSink) flush() error {
	if s.file == nil {
		return nil
	}
	return s.buf.Flush()
}

func (s *segmentSink) sync() error {
	if s.file == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *segmentSink) close() error {
	if s.file == nil {
		return nil
	}
	file := s.file
	s.file = nil
	if err := s.buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
