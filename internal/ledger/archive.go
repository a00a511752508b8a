package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultArchiveBatch    = 256
	defaultArchiveInterval = time.Second
)

// EventRow is the archived form of a ledger event.
type EventRow struct {
	Seq     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type    uint16 `gorm:"index"`
	Source  uint16
	TraceID uint64 `gorm:"index"`
	TsEvent int64
	Payload []byte
}

// TableName keeps the archive table stable across gorm naming strategies.
func (EventRow) TableName() string { return "ledger_events" }

// Archive batch-inserts ledger events into postgres off the hot path.
// The file segments remain the durable source of truth; the archive only
// serves downstream audit queries, so enqueue is best effort.
type Archive struct {
	db       *gorm.DB
	ch       chan Event
	wg       sync.WaitGroup
	log      *zap.Logger
	batch    int
	interval time.Duration
	dropped  uint64
	closed   uint32
}

// NewArchive creates an archive sink over an open gorm connection.
func NewArchive(db *gorm.DB, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{
		db:       db,
		ch:       make(chan Event, 4*defaultArchiveBatch),
		log:      log,
		batch:    defaultArchiveBatch,
		interval: defaultArchiveInterval,
	}
}

// Migrate creates the archive table if missing.
func (a *Archive) Migrate() error {
	return a.db.AutoMigrate(&EventRow{})
}

// Start runs the insert loop until the context is done or Close is called.
func (a *Archive) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// TryEnqueue hands an event to the insert loop without blocking.
func (a *Archive) TryEnqueue(e Event) {
	if atomic.LoadUint32(&a.closed) != 0 {
		return
	}
	select {
	case a.ch <- e:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

// Dropped returns the number of events lost to archive backpressure.
func (a *Archive) Dropped() uint64 {
	return atomic.LoadUint64(&a.dropped)
}

// Close flushes pending rows and stops the loop.
func (a *Archive) Close() {
	if atomic.CompareAndSwapUint32(&a.closed, 0, 1) {
		close(a.ch)
	}
	a.wg.Wait()
}

func (a *Archive) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	rows := make([]EventRow, 0, a.batch)
	flush := func() {
		if len(rows) == 0 {
			return
		}
		if err := a.db.CreateInBatches(rows, a.batch).Error; err != nil {
			a.log.Warn("ledger archive insert failed",
				zap.Int("rows", len(rows)),
				zap.Error(err))
		}
		rows = rows[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case e, ok := <-a.ch:
			if !ok {
				flush()
				return
			}
			rows = append(rows, EventRow{
				Seq:     e.Header.Seq,
				Type:    uint16(e.Header.Type),
				Source:  e.Header.Source,
				TraceID: e.Header.TraceID,
				TsEvent: e.Header.TsEvent,
				Payload: e.Payload,
			})
			if len(rows) >= a.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
