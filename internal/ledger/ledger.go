/*
Ledger is the append-only audit store backing every other component.

# Module
  - ledger: in-memory sequence-numbered event store with restartable reads
  - writer: segment-file durability for every append
  - playback: sequential replay of segment files
  - archive: optional postgres archive fed off the hot path

# Source
  - order registrations, risk verdicts from core
  - reservation mutations from core and osm
  - execution transitions, corrections from osm
  - discrepancies from recon

# Produce
  - replayable event stream for state rebuild and audit tooling
*/
package ledger

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"main/internal/errors"
	"main/internal/schema"
)

// Event is a sequenced ledger record.
type Event struct {
	Header  schema.EventHeader
	Payload []byte
}

// Ledger assigns gapless monotonic sequence numbers and retains every event.
// Durability sinks (segment writer, archive) are attached at construction;
// a failed hand-off to the writer fails the append before any in-memory
// state changes.
type Ledger struct {
	mu     sync.Mutex
	seq    uint64
	events []Event

	writer *Writer
	arch   *Archive
	now    func() int64
	log    *zap.Logger
}

// New creates a memory-backed ledger.
func New(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		now: func() int64 { return time.Now().UTC().UnixNano() },
		log: log,
	}
}

// WithWriter attaches a segment writer. Every append is handed to the writer
// before it becomes visible.
func (l *Ledger) WithWriter(w *Writer) *Ledger {
	l.writer = w
	return l
}

// WithArchive attaches a postgres archive sink.
func (l *Ledger) WithArchive(a *Archive) *Ledger {
	l.arch = a
	return l
}

// WithClock swaps the timestamp source.
func (l *Ledger) WithClock(now func() int64) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// Append stores an event and returns its assigned sequence number.
// A zero traceID defaults to the sequence number.
func (l *Ledger) Append(eventType schema.EventType, source uint16, payload []byte, traceID uint64) (uint64, error) {
	var cp []byte
	if len(payload) > 0 {
		cp = make([]byte, len(payload))
		copy(cp, payload)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.seq + 1
	ts := l.now()
	header := schema.NewHeader(eventType, source, next, ts, ts)
	if traceID == 0 {
		traceID = next
	}
	header.TraceID = traceID

	if l.writer != nil {
		if err := l.writer.TryAppend(header, cp); err != nil {
			return 0, errors.Wrap(err, "ledger append")
		}
	}
	if l.arch != nil {
		l.arch.TryEnqueue(Event{Header: header, Payload: cp})
	}

	l.seq = next
	l.events = append(l.events, Event{Header: header, Payload: cp})
	return next, nil
}

// LastSeq returns the highest assigned sequence number.
func (l *Ledger) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// ReadFrom returns an iterator over events with Seq >= seq. The iterator is
// finite and a new one may be opened from any sequence number.
func (l *Ledger) ReadFrom(seq uint64) *Iterator {
	l.mu.Lock()
	events := l.events
	l.mu.Unlock()

	idx := 0
	if seq > 1 {
		// events are densely sequenced from 1.
		idx = int(seq - 1)
		if idx > len(events) {
			idx = len(events)
		}
	}
	return &Iterator{events: events[idx:]}
}

// Iterator walks a fixed range of ledger events.
type Iterator struct {
	events []Event
	pos    int
}

// Next returns the next event, or false when exhausted.
func (it *Iterator) Next() (Event, bool) {
	if it.pos >= len(it.events) {
		return Event{}, false
	}
	e := it.events[it.pos]
	it.pos++
	return e, true
}

// Remaining returns the number of unread events.
func (it *Iterator) Remaining() int {
	return len(it.events) - it.pos
}
