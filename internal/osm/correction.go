package osm

import (
	"go.uber.org/zap"

	"main/internal/codec"
	"main/internal/schema"
)

// ApplyCorrection forces an order to the exchange-authoritative state the
// reconciler proved from the drop-copy channel. This is the only sanctioned
// bypass of the transition table; every use is journaled with the full
// discrepancy context before the state moves.
func (m *Machine) ApplyCorrection(c schema.Correction) error {
	if c.OrderID == 0 {
		return ErrUnknownOrder
	}
	lock := m.stripe(c.OrderID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	o, ok := m.orders[c.OrderID]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownOrder
	}

	if o.State == c.To && (c.FilledQty == 0 || c.FilledQty == o.FilledQty) {
		return nil
	}

	c.From = o.State
	if err := m.journalCorrection(c); err != nil {
		return err
	}

	m.log.Warn("correction applied",
		zap.Uint64("orderId", o.ID),
		zap.Uint16("from", uint16(o.State)),
		zap.Uint16("to", uint16(c.To)),
		zap.Uint16("evidence", uint16(c.Evidence)))

	m.correctReservation(o, c)

	if c.FilledQty > 0 {
		o.FilledQty = c.FilledQty
		leaves := o.Qty - c.FilledQty
		if leaves < 0 {
			leaves = 0
		}
		o.LeavesQty = leaves
	}
	if c.To == schema.OrderStateFilled {
		o.FilledQty = o.Qty
		o.LeavesQty = 0
	}
	o.State = c.To
	o.Unresolved = false

	if c.To.IsTerminal() {
		o.TerminalAt = m.now()
		m.release(o.ID)
	}
	return nil
}

// correctReservation settles the token the way the authoritative state
// implies: a missed fill confirms the remaining hold, a missed cancel or
// reject releases it, a missed partial fill confirms the delta.
func (m *Machine) correctReservation(o *Order, c schema.Correction) {
	tok, ok := m.funds.TokenByID(o.TokenID)
	if !ok {
		return
	}

	switch c.To {
	case schema.OrderStateFilled:
		if tok.Remaining > 0 {
			if err := m.funds.Confirm(o.TokenID, tok.Remaining); err != nil {
				m.log.Warn("correction confirm failed",
					zap.Uint64("orderId", o.ID),
					zap.Error(err))
				return
			}
			m.journalReserve(schema.EventReserveConfirm, o, schema.ReserveFlagNone, tok.Remaining)
		}
	case schema.OrderStateCanceled, schema.OrderStateRejected, schema.OrderStateExpired:
		m.releaseReservation(o)
	case schema.OrderStatePartFilled:
		delta := c.FilledQty - o.FilledQty
		if delta <= 0 {
			return
		}
		amount := m.confirmAmount(o, delta)
		if err := m.funds.Confirm(o.TokenID, amount); err != nil {
			m.log.Warn("correction confirm failed",
				zap.Uint64("orderId", o.ID),
				zap.Error(err))
			return
		}
		m.journalReserve(schema.EventReserveConfirm, o, schema.ReserveFlagNone, amount)
	}
}

func (m *Machine) journalCorrection(c schema.Correction) error {
	if m.journal == nil {
		return nil
	}
	payload := codec.EncodeCorrection(make([]byte, 0, codec.CorrectionPayloadSize), c)
	_, err := m.journal.Append(schema.EventCorrection, schema.SourceDropCopy, payload, c.OrderID)
	return err
}
