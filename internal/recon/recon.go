/*
Recon diffs the drop-copy channel's derived order state against the local
state machine and forces corrections when they diverge.

# Module
  - authority view derived from drop-copy execution reports
  - event-driven checks on every drop-copy report
  - periodic full sweep across all open and unresolved orders
  - discrepancy lifecycle: transient grace, escalation, correction

# Source
  - drop-copy reports from feed
  - local order state from osm

# Produce
  - corrections via the state machine's correction branch
  - discrepancy events in the audit ledger

The drop-copy value is ground truth. A mismatch younger than the transient
lag is given one chance to catch up before a correction is issued.
*/
package recon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/osm"
	"main/internal/schema"
)

// Config controls sweep cadence and escalation.
type Config struct {
	SweepInterval        time.Duration
	TransientLag         time.Duration
	MinConsistencyChecks int
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.TransientLag <= 0 {
		c.TransientLag = c.SweepInterval
	}
	if c.MinConsistencyChecks <= 0 {
		c.MinConsistencyChecks = 3
	}
	return c
}

// Stats counts reconciler activity.
type Stats struct {
	Sweeps     uint64
	Mismatches uint64
	Corrected  uint64
	Transient  uint64
}

var zeroExecID [16]byte

type authorityState struct {
	state     schema.OrderState
	filledQty schema.Quantity
	lastKind  schema.ExecKind
	updatedAt int64
}

type pending struct {
	id        uuid.UUID
	firstSeen int64
	local     schema.OrderState
	authority schema.OrderState
}

// Reconciler maintains the independent channel's view and reconciles it
// against the state machine.
type Reconciler struct {
	mu        sync.Mutex
	authority map[uint64]*authorityState
	pending   map[uint64]*pending
	seenExec  *schema.ExecSet
	stats     Stats
	clean     int

	cfg     Config
	machine *osm.Machine
	journal *ledger.Ledger
	now     func() int64
	log     *zap.Logger
}

// NewReconciler creates a reconciler over the state machine. A nil journal
// disables discrepancy event emission.
func NewReconciler(cfg Config, machine *osm.Machine, journal *ledger.Ledger, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		authority: make(map[uint64]*authorityState),
		pending:   make(map[uint64]*pending),
		seenExec:  schema.NewExecSet(0),
		cfg:       cfg.withDefaults(),
		machine:   machine,
		journal:   journal,
		now:       func() int64 { return time.Now().UTC().UnixNano() },
		log:       log,
	}
}

// WithClock swaps the timestamp source.
func (r *Reconciler) WithClock(now func() int64) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Observe folds one drop-copy report into the authority view and runs an
// immediate check for that order. The drop-copy channel is at-least-once,
// so reports are deduplicated by exec id before they accumulate; a
// redelivered fill must not inflate the authority's filled quantity.
func (r *Reconciler) Observe(rep schema.ExecReport) {
	if rep.OrderID == 0 {
		return
	}
	now := r.now()

	r.mu.Lock()
	if rep.ExecID != zeroExecID {
		if r.seenExec.Seen(rep.ExecID) {
			r.mu.Unlock()
			return
		}
		r.seenExec.Add(rep.ExecID)
	}
	a, ok := r.authority[rep.OrderID]
	if !ok {
		a = &authorityState{}
		r.authority[rep.OrderID] = a
	}
	a.lastKind = rep.Kind
	a.updatedAt = now

	switch rep.Kind {
	case schema.ExecAck:
		if a.state == schema.OrderStateUnknown || a.state == schema.OrderStateNew {
			a.state = schema.OrderStateAcked
		}
	case schema.ExecFill:
		a.filledQty += rep.Qty
		if rep.LeavesQty == 0 {
			a.state = schema.OrderStateFilled
		} else {
			a.state = schema.OrderStatePartFilled
		}
	case schema.ExecCancel:
		a.state = schema.OrderStateCanceled
	case schema.ExecReject:
		a.state = schema.OrderStateRejected
	case schema.ExecExpire:
		a.state = schema.OrderStateExpired
	}
	view := *a
	r.mu.Unlock()

	r.check(rep.OrderID, view, now)
}

// Sweep compares every open and unresolved local order against the
// authority view and retries pending discrepancies. Returns the number of
// corrections issued.
func (r *Reconciler) Sweep() int {
	now := r.now()
	corrected := 0
	mismatched := false

	orders := r.machine.OpenOrders()
	orders = append(orders, r.machine.UnresolvedOrders()...)
	seen := make(map[uint64]struct{}, len(orders))
	for _, o := range orders {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}

		r.mu.Lock()
		a, ok := r.authority[o.ID]
		var view authorityState
		if ok {
			view = *a
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		hit, fixed := r.evaluate(o, view, now)
		if hit {
			mismatched = true
		}
		if fixed {
			corrected++
		}
	}

	r.mu.Lock()
	r.stats.Sweeps++
	if mismatched {
		r.clean = 0
	} else {
		r.clean++
	}
	r.mu.Unlock()

	r.dropArchived()
	return corrected
}

// dropArchived clears authority and pending entries whose order the machine
// no longer tracks, so the view does not outgrow the archived order set.
// Entries updated within the grace window survive even when the order is
// unknown; a drop-copy report can land before the registration does.
func (r *Reconciler) dropArchived() {
	now := r.now()
	grace := r.cfg.SweepInterval.Nanoseconds() + r.cfg.TransientLag.Nanoseconds()

	r.mu.Lock()
	var stale []uint64
	for id, a := range r.authority {
		if now-a.updatedAt >= grace {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if _, ok := r.machine.Order(id); ok {
			continue
		}
		r.mu.Lock()
		delete(r.authority, id)
		delete(r.pending, id)
		r.mu.Unlock()
	}
}

// Ready reports whether enough consecutive clean sweeps have passed since
// start for the local state to be trusted after a restart.
func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clean >= r.cfg.MinConsistencyChecks
}

// StatsView returns a copy of the counters.
func (r *Reconciler) StatsView() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run sweeps on the configured interval until the context is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Reconciler) check(orderID uint64, view authorityState, now int64) {
	o, ok := r.machine.Order(orderID)
	if !ok {
		return
	}
	r.evaluate(o, view, now)
}

// evaluate runs the discrepancy lifecycle for one order. First sighting of
// a mismatch opens a pending entry; a mismatch older than the transient lag
// escalates to a correction; a vanished mismatch resolves as transient.
func (r *Reconciler) evaluate(o osm.Order, view authorityState, now int64) (mismatch, corrected bool) {
	diverged := view.state != schema.OrderStateUnknown &&
		(view.state != o.State || (view.filledQty > 0 && view.filledQty != o.FilledQty))

	r.mu.Lock()
	p, open := r.pending[o.ID]
	if !diverged {
		if open {
			delete(r.pending, o.ID)
			r.stats.Transient++
			r.mu.Unlock()
			r.journalDiscrepancy(p.id, o.ID, p.local, p.authority, schema.ResolutionIgnoredTransient, now)
			return false, false
		}
		r.mu.Unlock()
		return false, false
	}

	r.stats.Mismatches++
	if !open {
		p = &pending{
			id:        uuid.New(),
			firstSeen: now,
			local:     o.State,
			authority: view.state,
		}
		r.pending[o.ID] = p
		r.mu.Unlock()
		r.journalDiscrepancy(p.id, o.ID, o.State, view.state, schema.ResolutionPending, now)
		return true, false
	}
	p.local = o.State
	p.authority = view.state
	if now-p.firstSeen < r.cfg.TransientLag.Nanoseconds() {
		r.mu.Unlock()
		return true, false
	}
	delete(r.pending, o.ID)
	r.mu.Unlock()

	c := schema.Correction{
		DiscrepancyID: [16]byte(p.id),
		OrderID:       o.ID,
		From:          o.State,
		To:            view.state,
		Evidence:      view.lastKind,
		FilledQty:     view.filledQty,
	}
	if err := r.machine.ApplyCorrection(c); err != nil {
		r.log.Error("correction failed",
			zap.Uint64("orderId", o.ID),
			zap.Error(err))
		return true, false
	}

	r.mu.Lock()
	r.stats.Corrected++
	r.mu.Unlock()
	r.journalDiscrepancy(p.id, o.ID, o.State, view.state, schema.ResolutionCorrected, now)
	return true, true
}

func (r *Reconciler) journalDiscrepancy(id uuid.UUID, orderID uint64, local, authority schema.OrderState, res schema.DiscrepancyResolution, now int64) {
	if r.journal == nil {
		return
	}
	d := schema.Discrepancy{
		DiscrepancyID: [16]byte(id),
		OrderID:       orderID,
		LocalState:    local,
		Authority:     authority,
		Resolution:    res,
		DetectedAt:    now,
	}
	payload := codec.EncodeDiscrepancy(make([]byte, 0, codec.DiscrepancyPayloadSize), d)
	if _, err := r.journal.Append(schema.EventDiscrepancy, schema.SourceDropCopy, payload, orderID); err != nil {
		r.log.Error("discrepancy journal append failed",
			zap.Uint64("orderId", orderID),
			zap.Error(err))
	}
}
