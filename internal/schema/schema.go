package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event stored in the audit ledger.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventOrderNew
	EventOrderAck
	EventOrderReject
	EventFill
	EventOrderCancel
	EventOrderExpired
	EventReserve
	EventReserveConfirm
	EventReserveRelease
	EventReserveSettle
	EventBalanceSync
	EventRiskVerdict
	EventCorrection
	EventDiscrepancy
)

func (t EventType) String() string {
	switch t {
	case EventOrderNew:
		return "order_new"
	case EventOrderAck:
		return "order_ack"
	case EventOrderReject:
		return "order_reject"
	case EventFill:
		return "fill"
	case EventOrderCancel:
		return "order_cancel"
	case EventOrderExpired:
		return "order_expired"
	case EventReserve:
		return "reserve"
	case EventReserveConfirm:
		return "reserve_confirm"
	case EventReserveRelease:
		return "reserve_release"
	case EventReserveSettle:
		return "reserve_settle"
	case EventBalanceSync:
		return "balance_sync"
	case EventRiskVerdict:
		return "risk_verdict"
	case EventCorrection:
		return "correction"
	case EventDiscrepancy:
		return "discrepancy"
	default:
		return "unknown"
	}
}

// Event sources. The drop-copy channel is physically separate from the
// primary execution channel and never drives normal-path transitions.
const (
	SourceLocal    uint16 = 1
	SourcePrimary  uint16 = 2
	SourceDropCopy uint16 = 3
)

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
