package osm

import (
	"time"

	"go.uber.org/zap"

	"main/internal/schema"
)

var zeroExecID [16]byte

// Apply dispatches one execution report. Reports are deduplicated by exec
// id, so redelivered fills or cancels are absorbed as no-op successes and
// never re-apply a reservation delta.
func (m *Machine) Apply(source uint16, rep schema.ExecReport) error {
	if rep.OrderID == 0 {
		return ErrUnknownOrder
	}
	lock := m.stripe(rep.OrderID)
	lock.Lock()
	defer lock.Unlock()

	if rep.ExecID != zeroExecID {
		m.mu.RLock()
		dup := m.seenExec.Seen(rep.ExecID)
		m.mu.RUnlock()
		if dup {
			return nil
		}
	}

	m.mu.RLock()
	o, ok := m.orders[rep.OrderID]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownOrder
	}

	var err error
	switch rep.Kind {
	case schema.ExecAck:
		err = m.applyAck(source, o, rep)
	case schema.ExecFill:
		err = m.applyFill(source, o, rep)
	case schema.ExecCancel:
		err = m.applyCancel(source, o, rep)
	case schema.ExecReject:
		err = m.applyReject(source, o, rep)
	case schema.ExecCancelReject:
		err = m.applyCancelReject(source, o, rep)
	case schema.ExecExpire:
		err = m.applyExpire(source, o, rep)
	default:
		err = m.anomaly(o, o.State, rep)
	}
	if err != nil {
		return err
	}

	if rep.ExecID != zeroExecID {
		m.mu.Lock()
		m.seenExec.Add(rep.ExecID)
		m.mu.Unlock()
	}
	return nil
}

func (m *Machine) applyAck(source uint16, o *Order, rep schema.ExecReport) error {
	if !validTransition(o.State, schema.OrderStateAcked) {
		return m.anomaly(o, schema.OrderStateAcked, rep)
	}
	if err := m.journalExec(schema.EventOrderAck, source, rep); err != nil {
		return err
	}
	o.State = schema.OrderStateAcked
	o.AckedAt = m.now()
	if rep.LeavesQty > 0 {
		o.LeavesQty = rep.LeavesQty
	}
	return nil
}

func (m *Machine) applyFill(source uint16, o *Order, rep schema.ExecReport) error {
	if rep.Qty <= 0 {
		return ErrInvalidFill
	}
	fillQty := rep.Qty
	if fillQty > o.LeavesQty {
		m.log.Warn("fill exceeds leaves, clamped",
			zap.Uint64("orderId", o.ID),
			zap.Int64("fillQty", int64(rep.Qty)),
			zap.Int64("leaves", int64(o.LeavesQty)))
		fillQty = o.LeavesQty
	}
	leaves := o.LeavesQty - fillQty
	to := schema.OrderStatePartFilled
	if leaves == 0 {
		to = schema.OrderStateFilled
	}
	if !validTransition(o.State, to) {
		return m.anomaly(o, to, rep)
	}
	if err := m.journalExec(schema.EventFill, source, rep); err != nil {
		return err
	}

	o.FilledQty += fillQty
	o.LeavesQty = leaves
	o.State = to

	amount := m.confirmAmount(o, fillQty)
	if err := m.funds.Confirm(o.TokenID, amount); err != nil {
		m.log.Warn("reservation confirm failed",
			zap.Uint64("orderId", o.ID),
			zap.Error(err))
	} else {
		m.journalReserve(schema.EventReserveConfirm, o, schema.ReserveFlagNone, amount)
	}

	if to == schema.OrderStateFilled {
		o.TerminalAt = m.now()
		m.settleDust(o)
		m.release(o.ID)
	}
	return nil
}

func (m *Machine) applyCancel(source uint16, o *Order, rep schema.ExecReport) error {
	if !validTransition(o.State, schema.OrderStateCanceled) {
		return m.anomaly(o, schema.OrderStateCanceled, rep)
	}
	if err := m.journalExec(schema.EventOrderCancel, source, rep); err != nil {
		return err
	}
	o.State = schema.OrderStateCanceled
	o.TerminalAt = m.now()
	m.releaseReservation(o)
	m.release(o.ID)
	return nil
}

func (m *Machine) applyReject(source uint16, o *Order, rep schema.ExecReport) error {
	if !validTransition(o.State, schema.OrderStateRejected) {
		return m.anomaly(o, schema.OrderStateRejected, rep)
	}
	if err := m.journalExec(schema.EventOrderReject, source, rep); err != nil {
		return err
	}
	o.State = schema.OrderStateRejected
	o.TerminalAt = m.now()
	m.releaseReservation(o)
	m.release(o.ID)
	return nil
}

// applyCancelReject counts a failed cancel attempt. Once retries are
// exhausted the order is flagged unresolved so the reconciler settles its
// true state instead of anyone assuming it canceled.
func (m *Machine) applyCancelReject(source uint16, o *Order, rep schema.ExecReport) error {
	if err := m.journalExec(schema.EventOrderCancel, source, rep); err != nil {
		return err
	}
	o.CancelAttempts++
	if o.CancelAttempts >= m.cfg.MaxCancelRetries && !o.Unresolved {
		o.Unresolved = true
		m.log.Error("cancel retries exhausted, order unresolved",
			zap.Uint64("orderId", o.ID),
			zap.Int("attempts", o.CancelAttempts))
	}
	return nil
}

func (m *Machine) applyExpire(source uint16, o *Order, rep schema.ExecReport) error {
	if !validTransition(o.State, schema.OrderStateExpired) {
		return m.anomaly(o, schema.OrderStateExpired, rep)
	}
	if err := m.journalExec(schema.EventOrderExpired, source, rep); err != nil {
		return err
	}
	o.State = schema.OrderStateExpired
	o.TerminalAt = m.now()
	m.releaseReservation(o)
	m.release(o.ID)
	return nil
}

// SweepTimeouts expires orders that never received an ack within the timeout
// policy's allowance. One scheduled scan covers every order; there are no
// per-order timers.
func (m *Machine) SweepTimeouts() []uint64 {
	now := m.now()

	m.mu.RLock()
	var candidates []uint64
	for id, o := range m.orders {
		if o.State != schema.OrderStateNew {
			continue
		}
		if now-o.RegisteredAt >= m.timeoutFor(o).Nanoseconds() {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	var expired []uint64
	for _, id := range candidates {
		rep := schema.ExecReport{OrderID: id, Kind: schema.ExecExpire}
		if err := m.Apply(schema.SourceLocal, rep); err != nil {
			m.log.Warn("timeout expire failed",
				zap.Uint64("orderId", id),
				zap.Error(err))
			continue
		}
		expired = append(expired, id)
	}
	return expired
}

func (m *Machine) timeoutFor(o *Order) time.Duration {
	if m.cfg.TimeoutFn != nil {
		return m.cfg.TimeoutFn(TimeoutContext{
			OrderID:      o.ID,
			SymbolID:     o.SymbolID,
			VenueID:      o.VenueID,
			RegisteredAt: o.RegisteredAt,
		})
	}
	return m.cfg.AckTimeout
}

func (m *Machine) confirmAmount(o *Order, qty schema.Quantity) schema.Amount {
	if o.Side == schema.OrderSideBuy {
		return schema.Amount(int64(o.Price) * int64(qty))
	}
	return schema.Amount(qty)
}

func (m *Machine) settleDust(o *Order) {
	tok, ok := m.funds.TokenByID(o.TokenID)
	if !ok {
		return
	}
	dust := tok.Remaining
	if err := m.funds.Settle(o.TokenID); err != nil {
		m.log.Warn("reservation settle failed",
			zap.Uint64("orderId", o.ID),
			zap.Error(err))
		return
	}
	if dust > 0 {
		m.journalReserve(schema.EventReserveSettle, o, schema.ReserveFlagDust, dust)
	}
}

func (m *Machine) releaseReservation(o *Order) {
	tok, ok := m.funds.TokenByID(o.TokenID)
	if !ok {
		return
	}
	remaining := tok.Remaining
	if err := m.funds.Release(o.TokenID); err != nil {
		m.log.Warn("reservation release failed",
			zap.Uint64("orderId", o.ID),
			zap.Error(err))
		return
	}
	m.journalReserve(schema.EventReserveRelease, o, schema.ReserveFlagNone, remaining)
}

func (m *Machine) release(orderID uint64) {
	if m.gate != nil {
		m.gate.Release(orderID)
	}
}

func (m *Machine) anomaly(o *Order, to schema.OrderState, rep schema.ExecReport) error {
	m.log.Warn("transition rejected",
		zap.Uint64("orderId", o.ID),
		zap.Uint16("from", uint16(o.State)),
		zap.Uint16("to", uint16(to)),
		zap.Uint16("kind", uint16(rep.Kind)))
	return ErrInvalidTransition
}
