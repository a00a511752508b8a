package state

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/osm"
	"main/internal/reserve"
	"main/internal/schema"
)

// RebuildConfig carries the component configs a rebuild must share with the
// live system; replaying the same events through different policies would
// not reproduce the same state.
type RebuildConfig struct {
	Reserve reserve.Config
	Machine osm.Config
	Log     *zap.Logger
}

// RebuildResult is the reconstructed state.
type RebuildResult struct {
	Funds       *reserve.Ledger
	Machine     *osm.Machine
	LastSeq     uint64
	LastEventTs int64
	Applied     int
}

// Applier folds ledger events into fresh components. The machine runs with
// a nil journal so replay never appends the events it is reading.
type Applier struct {
	funds   *reserve.Ledger
	machine *osm.Machine
	pending map[uint64]uuid.UUID

	lastSeq     uint64
	lastEventTs int64
	applied     int
	log         *zap.Logger
}

// NewApplier creates an applier with empty state.
func NewApplier(cfg RebuildConfig) *Applier {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	funds := reserve.NewLedger(cfg.Reserve, log)
	return &Applier{
		funds:   funds,
		machine: osm.NewMachine(cfg.Machine, nil, funds, nil, log),
		pending: make(map[uint64]uuid.UUID),
		log:     log,
	}
}

// Apply folds one event. Events are expected in sequence order; replays
// from a ledger or its segment files both satisfy that.
func (a *Applier) Apply(header schema.EventHeader, payload []byte) error {
	if header.Seq > 0 && header.Seq <= a.lastSeq {
		return nil
	}
	if header.Seq > a.lastSeq {
		a.lastSeq = header.Seq
	}
	if header.TsEvent > a.lastEventTs {
		a.lastEventTs = header.TsEvent
	}

	switch header.Type {
	case schema.EventReserve:
		res, ok := codec.DecodeReservation(payload)
		if !ok {
			return fmt.Errorf("decode reservation failed: seq=%d", header.Seq)
		}
		id := uuid.UUID(res.TokenID)
		if _, err := a.funds.ReserveWithID(id, res.AssetID, res.Amount, res.OrderID, header.TsEvent); err != nil {
			return fmt.Errorf("replay reserve: seq=%d: %w", header.Seq, err)
		}
		a.pending[res.OrderID] = id

	case schema.EventOrderNew:
		o, ok := codec.DecodeOrderNew(payload)
		if !ok {
			return fmt.Errorf("decode order failed: seq=%d", header.Seq)
		}
		order := osm.Order{
			ID:            o.OrderID,
			ClientOrderID: o.ClientOrderID,
			AccountID:     o.AccountID,
			StrategyID:    o.StrategyID,
			SymbolID:      o.SymbolID,
			VenueID:       o.VenueID,
			Side:          o.Side,
			Type:          o.Type,
			TimeInForce:   o.TimeInForce,
			Price:         o.Price,
			Qty:           o.Qty,
			RegisteredAt:  header.TsEvent,
		}
		if id, ok := a.pending[o.OrderID]; ok {
			order.TokenID = id
			delete(a.pending, o.OrderID)
		}
		if err := a.machine.Register(order); err != nil {
			return fmt.Errorf("replay register: seq=%d: %w", header.Seq, err)
		}

	case schema.EventOrderAck, schema.EventFill, schema.EventOrderCancel,
		schema.EventOrderReject, schema.EventOrderExpired:
		if header.Source == schema.SourceDropCopy {
			// drop-copy records are audit only; they never drove the machine
			return nil
		}
		rep, ok := codec.DecodeExecReport(payload)
		if !ok {
			return fmt.Errorf("decode exec report failed: seq=%d", header.Seq)
		}
		if err := a.machine.Apply(header.Source, rep); err != nil {
			return fmt.Errorf("replay exec: seq=%d: %w", header.Seq, err)
		}

	case schema.EventCorrection:
		c, ok := codec.DecodeCorrection(payload)
		if !ok {
			return fmt.Errorf("decode correction failed: seq=%d", header.Seq)
		}
		if err := a.machine.ApplyCorrection(c); err != nil {
			return fmt.Errorf("replay correction: seq=%d: %w", header.Seq, err)
		}

	case schema.EventReserveRelease:
		res, ok := codec.DecodeReservation(payload)
		if !ok {
			return fmt.Errorf("decode reservation failed: seq=%d", header.Seq)
		}
		if res.Flags&schema.ReserveFlagUnwind == 0 {
			// exec-driven releases are re-derived from the exec events
			return nil
		}
		if err := a.funds.Release(uuid.UUID(res.TokenID)); err != nil {
			return fmt.Errorf("replay unwind release: seq=%d: %w", header.Seq, err)
		}
		delete(a.pending, res.OrderID)

	case schema.EventBalanceSync:
		sync, ok := codec.DecodeBalanceSync(payload)
		if !ok {
			return fmt.Errorf("decode balance sync failed: seq=%d", header.Seq)
		}
		a.funds.SetFreeBalance(sync.AssetID, sync.Free)

	default:
		// verdicts, discrepancies and reservation side effects are derived
		// from the driving events above
		return nil
	}

	a.applied++
	return nil
}

// Result returns the reconstructed components.
func (a *Applier) Result() RebuildResult {
	return RebuildResult{
		Funds:       a.funds,
		Machine:     a.machine,
		LastSeq:     a.lastSeq,
		LastEventTs: a.lastEventTs,
		Applied:     a.applied,
	}
}

// Rebuild replays an in-memory ledger from sequence 1.
func Rebuild(lg *ledger.Ledger, cfg RebuildConfig) (RebuildResult, error) {
	applier := NewApplier(cfg)
	it := lg.ReadFrom(1)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if err := applier.Apply(e.Header, e.Payload); err != nil {
			return RebuildResult{}, err
		}
	}
	return applier.Result(), nil
}

// RecoverConfig controls segment-file recovery.
type RecoverConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
	SnapshotPath    string

	Reserve reserve.Config
	Machine osm.Config
	Log     *zap.Logger
}

// RecoverFromDisk replays every ledger segment in the directory and, when a
// snapshot path is given, verifies the rebuilt state against it.
func RecoverFromDisk(ctx context.Context, cfg RecoverConfig) (RebuildResult, error) {
	pb, err := ledger.NewPlayback(ledger.PlaybackConfig{
		Dir:             cfg.Dir,
		FilePrefix:      cfg.FilePrefix,
		Speed:           0,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if err != nil {
		return RebuildResult{}, err
	}

	applier := NewApplier(RebuildConfig{Reserve: cfg.Reserve, Machine: cfg.Machine, Log: cfg.Log})
	if err := pb.Run(ctx, applier.Apply); err != nil {
		return RebuildResult{}, err
	}
	result := applier.Result()

	if cfg.SnapshotPath != "" {
		expected, err := ReadSnapshot(cfg.SnapshotPath)
		if err != nil {
			return RebuildResult{}, err
		}
		actual := Build(result.Funds, result.Machine, nil, result.LastSeq, result.LastEventTs)
		if err := CompareSnapshots(expected, actual); err != nil {
			return RebuildResult{}, fmt.Errorf("recovered state diverges from snapshot: %w", err)
		}
	}
	return result, nil
}
