/*
Obs collects runtime counters for the reservation and reconciliation core.

# Module
  - per-event-type and per-risk-reason counters
  - latency tracks for feed receive, submit flow, and risk evaluation
  - queue drop / decode failure counters

# Produce
  - Snapshot for the run summary log
  - prometheus export through PromCollector
*/
package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	eventTypeSlots  = int(schema.EventDiscrepancy) + 1
	riskReasonSlots = int(schema.RiskReasonInsufficientFunds) + 1
)

// Metrics is safe for concurrent use; every mutation is a single atomic op
// so it can sit on the submit and dispatch hot paths.
type Metrics struct {
	events      [eventTypeSlots]atomic.Uint64
	riskReasons [riskReasonSlots]atomic.Uint64

	queueDrops   atomic.Uint64
	queueClosed  atomic.Uint64
	decodeErrors atomic.Uint64

	feedLatency      latencyTrack
	orderFlowLatency latencyTrack
	riskEvalLatency  latencyTrack
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts a dispatched event and, when both timestamps are set,
// samples the exchange-to-receive latency.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	if idx := int(header.Type); idx >= 0 && idx < eventTypeSlots {
		m.events[idx].Add(1)
	}
	if header.TsEvent > 0 && header.TsRecv >= header.TsEvent {
		m.feedLatency.sample(time.Duration(header.TsRecv - header.TsEvent))
	}
}

// IncRiskReason counts a gate verdict by reason.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx < riskReasonSlots {
		m.riskReasons[idx].Add(1)
	}
}

// IncQueueDrop counts an event lost to a full bus queue.
func (m *Metrics) IncQueueDrop() {
	if m != nil {
		m.queueDrops.Add(1)
	}
}

// IncQueueClosed counts a publish attempt against a closed queue.
func (m *Metrics) IncQueueClosed() {
	if m != nil {
		m.queueClosed.Add(1)
	}
}

// IncDecodeError counts a payload the dispatcher could not decode.
func (m *Metrics) IncDecodeError() {
	if m != nil {
		m.decodeErrors.Add(1)
	}
}

// ObserveOrderFlow samples the submit-to-registered duration.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m != nil {
		m.orderFlowLatency.sample(d)
	}
}

// ObserveRiskEval samples one gate evaluation.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m != nil {
		m.riskEvalLatency.sample(d)
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	RiskReasonCounts map[schema.RiskReason]uint64
	QueueDrops       uint64
	QueueClosed      uint64
	DecodeErrors     uint64
	EventLatency     LatencySnapshot
	OrderFlowLatency LatencySnapshot
	RiskEvalLatency  LatencySnapshot
}

// Snapshot copies the current values. Zero counters are omitted from the
// per-type maps.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	events := make(map[schema.EventType]uint64)
	for i := range m.events {
		if v := m.events[i].Load(); v > 0 {
			events[schema.EventType(i)] = v
		}
	}
	reasons := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasons {
		if v := m.riskReasons[i].Load(); v > 0 {
			reasons[schema.RiskReason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      events,
		RiskReasonCounts: reasons,
		QueueDrops:       m.queueDrops.Load(),
		QueueClosed:      m.queueClosed.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		EventLatency:     m.feedLatency.snapshot(),
		OrderFlowLatency: m.orderFlowLatency.snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.snapshot(),
	}
}

// latencyTrack keeps count, sum and extrema of duration samples in
// nanoseconds. min is stored offset by one so zero means "no sample yet".
type latencyTrack struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// LatencySnapshot is an aggregated view of one latency track.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

func (l *latencyTrack) sample(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	l.count.Add(1)
	l.sum.Add(nanos)
	lowerExtreme(&l.min, nanos+1)
	raiseExtreme(&l.max, nanos)
}

func (l *latencyTrack) snapshot() LatencySnapshot {
	count := l.count.Load()
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(l.min.Load() - 1),
		Max:   time.Duration(l.max.Load()),
		Avg:   time.Duration(l.sum.Load() / count),
	}
}

func lowerExtreme(v *atomic.Uint64, candidate uint64) {
	for {
		cur := v.Load()
		if cur != 0 && candidate >= cur {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func raiseExtreme(v *atomic.Uint64, candidate uint64) {
	for {
		cur := v.Load()
		if candidate <= cur {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}
