/*
Feed routes execution-channel events from the bus into the components that
own them.

# Module
  - primary-channel execution reports drive the state machine
  - drop-copy reports feed the reconciler only, never the normal path
  - balance syncs update the reservation ledger

# Source
  - bus queue fed by the external channel adapters (or chaos wrappers)

# Produce
  - journaled drop-copy and balance events; primary-path events are
    journaled by the state machine itself, write-ahead
*/
package feed

import (
	"context"

	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/osm"
	"main/internal/recon"
	"main/internal/reserve"
	"main/internal/schema"
)

// Dispatcher consumes the inbound event queue.
type Dispatcher struct {
	machine *osm.Machine
	recon   *recon.Reconciler
	funds   *reserve.Ledger
	journal *ledger.Ledger
	metrics *obs.Metrics
	log     *zap.Logger
}

// NewDispatcher wires the routing targets.
func NewDispatcher(machine *osm.Machine, rec *recon.Reconciler, funds *reserve.Ledger, journal *ledger.Ledger, metrics *obs.Metrics, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		machine: machine,
		recon:   rec,
		funds:   funds,
		journal: journal,
		metrics: metrics,
		log:     log,
	}
}

// Run consumes the queue until the context is done or the queue closes.
func (d *Dispatcher) Run(ctx context.Context, q *bus.Queue) {
	q.Run(ctx, d.Handle)
}

// Handle routes one bus event.
func (d *Dispatcher) Handle(e bus.Event) {
	d.metrics.ObserveEvent(e.Header)

	switch e.Header.Type {
	case schema.EventOrderAck, schema.EventFill, schema.EventOrderCancel,
		schema.EventOrderReject, schema.EventOrderExpired:
		d.handleExec(e)
	case schema.EventBalanceSync:
		d.handleBalanceSync(e)
	default:
		d.log.Warn("unroutable event",
			zap.Uint16("type", uint16(e.Header.Type)),
			zap.Uint16("source", e.Header.Source))
	}
}

func (d *Dispatcher) handleExec(e bus.Event) {
	rep, ok := codec.DecodeExecReport(e.Payload)
	if !ok {
		d.metrics.IncDecodeError()
		d.log.Warn("exec report decode failed",
			zap.Uint16("type", uint16(e.Header.Type)),
			zap.Int("len", len(e.Payload)))
		return
	}

	switch e.Header.Source {
	case schema.SourceDropCopy:
		// audit only; the machine never sees drop-copy reports directly
		if d.journal != nil {
			if _, err := d.journal.Append(e.Header.Type, schema.SourceDropCopy, e.Payload, rep.OrderID); err != nil {
				d.log.Error("drop-copy journal append failed",
					zap.Uint64("orderId", rep.OrderID),
					zap.Error(err))
			}
		}
		d.recon.Observe(rep)
	default:
		if err := d.machine.Apply(schema.SourcePrimary, rep); err != nil {
			d.log.Warn("exec report not applied",
				zap.Uint64("orderId", rep.OrderID),
				zap.Uint16("kind", uint16(rep.Kind)),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) handleBalanceSync(e bus.Event) {
	sync, ok := codec.DecodeBalanceSync(e.Payload)
	if !ok {
		d.metrics.IncDecodeError()
		d.log.Warn("balance sync decode failed", zap.Int("len", len(e.Payload)))
		return
	}
	if d.journal != nil {
		if _, err := d.journal.Append(schema.EventBalanceSync, e.Header.Source, e.Payload, uint64(sync.AssetID)); err != nil {
			d.log.Error("balance sync journal append failed",
				zap.Uint32("assetId", uint32(sync.AssetID)),
				zap.Error(err))
			return
		}
	}
	bal := d.funds.SetFreeBalance(sync.AssetID, sync.Free)
	d.log.Debug("balance synced",
		zap.Uint32("assetId", uint32(sync.AssetID)),
		zap.Int64("free", int64(bal.LastFree)),
		zap.Int64("available", int64(bal.Available)))
}
