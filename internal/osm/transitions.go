package osm

import "main/internal/schema"

// transitions is the normal-path table. Anything outside it is rejected and
// logged as an anomaly; only the correction branch may bypass it.
var transitions = map[schema.OrderState]map[schema.OrderState]bool{
	schema.OrderStateNew: {
		schema.OrderStateAcked:    true,
		schema.OrderStateRejected: true,
		schema.OrderStateExpired:  true,
	},
	schema.OrderStateAcked: {
		schema.OrderStatePartFilled: true,
		schema.OrderStateFilled:     true,
		schema.OrderStateCanceled:   true,
		schema.OrderStateExpired:    true,
	},
	schema.OrderStatePartFilled: {
		schema.OrderStatePartFilled: true,
		schema.OrderStateFilled:     true,
		schema.OrderStateCanceled:   true,
	},
}

func validTransition(from, to schema.OrderState) bool {
	return transitions[from][to]
}
