package codec

import (
	"testing"

	"github.com/google/uuid"

	"main/internal/schema"
)

func TestOrderNewRoundTrip(t *testing.T) {
	in := schema.OrderNew{
		OrderID:       42,
		AccountID:     3,
		StrategyID:    7,
		SymbolID:      9,
		VenueID:       2,
		Side:          schema.OrderSideSell,
		Type:          schema.OrderTypeLimit,
		TimeInForce:   schema.TimeInForceIOC,
		Flags:         0x11,
		Price:         105_0000,
		Qty:           3_5000,
		ClientOrderID: schema.NewStr32("client-42"),
	}
	out, ok := DecodeOrderNew(EncodeOrderNew(nil, in))
	if !ok {
		t.Fatalf("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestExecReportKeepsSign(t *testing.T) {
	in := schema.ExecReport{
		ExecID:     [16]byte(uuid.New()),
		OrderID:    1,
		SymbolID:   9,
		Kind:       schema.ExecFill,
		Price:      -5,
		Qty:        10,
		LeavesQty:  0,
		TsExchange: -1,
	}
	out, ok := DecodeExecReport(EncodeExecReport(nil, in))
	if !ok {
		t.Fatalf("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 128)
	out := EncodeBalanceSync(buf, schema.BalanceSync{AssetID: 1, Free: 10})
	if len(out) != BalanceSyncPayloadSize {
		t.Fatalf("length: %d", len(out))
	}
	if &out[0] != &buf[:1][0] {
		t.Fatalf("encode reallocated despite sufficient capacity")
	}
}

func TestDecodeRejectsShortInput(t *testing.T) {
	short := make([]byte, 8)
	if _, ok := DecodeOrderNew(short); ok {
		t.Fatalf("order new accepted short input")
	}
	if _, ok := DecodeExecReport(short); ok {
		t.Fatalf("exec report accepted short input")
	}
	if _, ok := DecodeReservation(short); ok {
		t.Fatalf("reservation accepted short input")
	}
	if _, ok := DecodeBalanceSync(short); ok {
		t.Fatalf("balance sync accepted short input")
	}
	if _, ok := DecodeRiskVerdict(short); ok {
		t.Fatalf("risk verdict accepted short input")
	}
	if _, ok := DecodeCorrection(short); ok {
		t.Fatalf("correction accepted short input")
	}
	if _, ok := DecodeDiscrepancy(short); ok {
		t.Fatalf("discrepancy accepted short input")
	}
}

func TestCorrectionRoundTrip(t *testing.T) {
	in := schema.Correction{
		DiscrepancyID: [16]byte(uuid.New()),
		OrderID:       8,
		From:          schema.OrderStateAcked,
		To:            schema.OrderStateFilled,
		Evidence:      schema.ExecFill,
		FilledQty:     500,
	}
	out, ok := DecodeCorrection(EncodeCorrection(nil, in))
	if !ok {
		t.Fatalf("decode failed")
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}
