package schema

// Price is a scaled integer. The scale is defined by configuration.
type Price int64

// Quantity is a scaled integer. The scale is defined by configuration.
type Quantity int64

// Notional is a scaled integer. The scale is defined by configuration.
type Notional int64

// Amount is a scaled integer balance delta in an asset's native scale.
type Amount int64

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	OrderStateExpired
)

// IsTerminal reports whether an order state accepts no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// OrderNew is the payload for EventOrderNew.
type OrderNew struct {
	OrderID       uint64
	AccountID     AccountID
	StrategyID    StrategyID
	SymbolID      SymbolID
	VenueID       VenueID
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	Flags         uint16
	Price         Price
	Qty           Quantity
	ClientOrderID Str32
}

// ExecKind describes an execution-channel report class.
type ExecKind uint16

const (
	ExecUnknown ExecKind = iota
	ExecAck
	ExecFill
	ExecCancel
	ExecReject
	ExecCancelReject
	ExecExpire
)

// ExecReport is a normalized execution event from either channel.
// Fill quantities are per-execution deltas, not cumulative totals.
type ExecReport struct {
	ExecID     [16]byte
	OrderID    uint64
	SymbolID   SymbolID
	Kind       ExecKind
	Reason     uint16
	Price      Price
	Qty        Quantity
	LeavesQty  Quantity
	TsExchange int64
}

// Reservation flags. Unwind marks a release that compensates a journaled
// reserve whose order never registered; replay honors it directly because
// no execution event will ever drive that release.
const (
	ReserveFlagNone   uint16 = 0
	ReserveFlagDust   uint16 = 1 << 0
	ReserveFlagUnwind uint16 = 1 << 1
)

// Reservation is the payload for the reserve/confirm/release/settle events.
type Reservation struct {
	TokenID [16]byte
	OrderID uint64
	AssetID AssetID
	Flags   uint16
	Amount  Amount
}

// BalanceSync is the payload for EventBalanceSync; Free is the venue's
// reported free balance for the asset.
type BalanceSync struct {
	AssetID AssetID
	Flags   uint16
	Free    Amount
}

// RiskAction is the outcome of a risk verdict.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is a coarse reason code for risk verdicts.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonLimitExceeded
	RiskReasonSelfTrade
	RiskReasonRateLimited
	RiskReasonPriceBand
	RiskReasonFatFinger
	RiskReasonInsufficientFunds
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonKillSwitch:
		return "kill_switch"
	case RiskReasonLimitExceeded:
		return "limit_exceeded"
	case RiskReasonSelfTrade:
		return "self_trade"
	case RiskReasonRateLimited:
		return "rate_limited"
	case RiskReasonPriceBand:
		return "price_band"
	case RiskReasonFatFinger:
		return "fat_finger"
	case RiskReasonInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// LimitDimension is a risk limit axis.
type LimitDimension uint16

const (
	DimensionUnknown LimitDimension = iota
	DimensionAccount
	DimensionSymbol
	DimensionVenue
	DimensionStrategy
)

// RiskVerdict is the payload for EventRiskVerdict.
type RiskVerdict struct {
	OrderID    uint64
	AccountID  AccountID
	StrategyID StrategyID
	SymbolID   SymbolID
	VenueID    VenueID
	Action     RiskAction
	Reason     RiskReason
	Dimension  LimitDimension
	Notional   Notional
}

// Correction is the payload for EventCorrection. Corrections are the sole
// sanctioned bypass of the order transition table; the evidence kind is the
// drop-copy report class that proved the divergence.
type Correction struct {
	DiscrepancyID [16]byte
	OrderID       uint64
	From          OrderState
	To            OrderState
	Evidence      ExecKind
	Flags         uint16
	FilledQty     Quantity
}

// DiscrepancyResolution tracks how a reconciliation discrepancy ended.
type DiscrepancyResolution uint16

const (
	ResolutionPending DiscrepancyResolution = iota
	ResolutionCorrected
	ResolutionIgnoredTransient
)

// Discrepancy is the payload for EventDiscrepancy.
type Discrepancy struct {
	DiscrepancyID [16]byte
	OrderID       uint64
	LocalState    OrderState
	Authority     OrderState
	Resolution    DiscrepancyResolution
	DetectedAt    int64
}
