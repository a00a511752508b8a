package reserve

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"main/internal/schema"
)

const asset = schema.AssetID(1)

func checkBalance(t *testing.T, l *Ledger) {
	t.Helper()
	bal, ok := l.BalanceOf(asset)
	if !ok {
		t.Fatalf("asset has no balance state")
	}
	if bal.Available+bal.Reserved+bal.Unsynced != bal.LastFree {
		t.Fatalf("balance counters out of sync: %+v", bal)
	}
}

func TestReserveConfirmSettle(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)
	checkBalance(t, l)

	tok, err := l.Reserve(asset, 400, 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	checkBalance(t, l)
	if l.Available(asset) != 600 {
		t.Fatalf("available mismatch: %d", l.Available(asset))
	}

	if err := l.Confirm(tok.ID, 150); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	checkBalance(t, l)
	bal, _ := l.BalanceOf(asset)
	if bal.Reserved != 250 || bal.Confirmed != 150 || bal.Unsynced != 150 {
		t.Fatalf("counters after partial confirm: %+v", bal)
	}

	// settle returns the unconfirmed remainder to available
	if err := l.Settle(tok.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	checkBalance(t, l)
	bal, _ = l.BalanceOf(asset)
	if bal.Available != 850 || bal.Reserved != 0 {
		t.Fatalf("counters after settle: %+v", bal)
	}
	if l.LiveTokenCount() != 0 {
		t.Fatalf("token still live after settle")
	}
}

func TestReserveInsufficientFunds(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 100)

	if _, err := l.Reserve(asset, 101, 1); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	checkBalance(t, l)
	if l.LiveTokenCount() != 0 {
		t.Fatalf("failed reserve left a live token")
	}

	// the order slot must be reusable after the failed attempt
	if _, err := l.Reserve(asset, 100, 1); err != nil {
		t.Fatalf("reserve after failure: %v", err)
	}
}

func TestReserveSafetyMargin(t *testing.T) {
	l := NewLedger(Config{SafetyMarginBps: 1000}, nil)
	l.SetFreeBalance(asset, 10000)

	// 10% margin holds back 1000
	if _, err := l.Reserve(asset, 9500, 1); err != ErrInsufficientFunds {
		t.Fatalf("expected margin rejection, got %v", err)
	}
	if _, err := l.Reserve(asset, 9000, 2); err != nil {
		t.Fatalf("reserve within margin: %v", err)
	}
	checkBalance(t, l)
}

func TestSafetyMarginSmallBalance(t *testing.T) {
	l := NewLedger(Config{SafetyMarginBps: 1000}, nil)
	l.SetFreeBalance(asset, 100)

	// 10% of 100 still holds back 10
	if _, err := l.Reserve(asset, 95, 1); err != ErrInsufficientFunds {
		t.Fatalf("expected margin rejection, got %v", err)
	}
	if _, err := l.Reserve(asset, 90, 2); err != nil {
		t.Fatalf("reserve within margin: %v", err)
	}
	checkBalance(t, l)
}

func TestConcurrentReserveKeepsInvariant(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 64)

	const callers = 128
	var granted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(orderID uint64) {
			defer wg.Done()
			_, err := l.Reserve(asset, 1, orderID)
			switch err {
			case nil:
				granted.Add(1)
			case ErrInsufficientFunds:
			default:
				t.Errorf("reserve %d: %v", orderID, err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	checkBalance(t, l)
	if granted.Load() != 64 {
		t.Fatalf("granted %d reservations from a balance of 64", granted.Load())
	}
	bal, _ := l.BalanceOf(asset)
	if bal.Available != 0 || bal.Reserved != 64 {
		t.Fatalf("counters after contention: %+v", bal)
	}
}

func TestDuplicateReservation(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)

	if _, err := l.Reserve(asset, 100, 7); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := l.Reserve(asset, 100, 7); err != ErrDuplicateReservation {
		t.Fatalf("expected ErrDuplicateReservation, got %v", err)
	}
}

func TestTerminalIdempotency(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)

	tok, err := l.Reserve(asset, 300, 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Confirm(tok.ID, 300); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// a fully confirmed token absorbs duplicate confirms without re-applying
	if err := l.Confirm(tok.ID, 300); err != nil {
		t.Fatalf("duplicate confirm should be a no-op, got %v", err)
	}
	bal, _ := l.BalanceOf(asset)
	if bal.Confirmed != 300 {
		t.Fatalf("duplicate confirm re-applied: %+v", bal)
	}
	if err := l.Release(tok.ID); err != ErrAlreadyTerminal {
		t.Fatalf("release of confirmed token should fail, got %v", err)
	}

	tok2, err := l.Reserve(asset, 200, 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(tok2.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(tok2.ID); err != nil {
		t.Fatalf("duplicate release should be a no-op, got %v", err)
	}
	if err := l.Confirm(tok2.ID, 1); err != ErrAlreadyTerminal {
		t.Fatalf("confirm of released token should fail, got %v", err)
	}
	checkBalance(t, l)
}

func TestConfirmClampsToRemaining(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)

	tok, err := l.Reserve(asset, 100, 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Confirm(tok.ID, 500); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	bal, _ := l.BalanceOf(asset)
	if bal.Confirmed != 100 || bal.Reserved != 0 {
		t.Fatalf("confirm not clamped: %+v", bal)
	}
	checkBalance(t, l)
}

func TestSetFreeBalanceFoldsUnsynced(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)

	tok, _ := l.Reserve(asset, 400, 1)
	if err := l.Confirm(tok.ID, 400); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// venue reports the post-fill free balance
	bal := l.SetFreeBalance(asset, 600)
	if bal.Unsynced != 0 || bal.Available != 600 {
		t.Fatalf("sync did not fold unsynced outflow: %+v", bal)
	}
	checkBalance(t, l)
}

func TestReserveWithIDReproducesToken(t *testing.T) {
	l := NewLedger(Config{}, nil)
	l.SetFreeBalance(asset, 1000)

	id := uuid.New()
	tok, err := l.ReserveWithID(id, asset, 250, 9, 12345)
	if err != nil {
		t.Fatalf("reserve with id: %v", err)
	}
	if tok.ID != id || tok.CreatedAt != 12345 {
		t.Fatalf("token identity not reproduced: %+v", tok)
	}
	got, ok := l.LiveTokenOf(9)
	if !ok || got.ID != id {
		t.Fatalf("live token lookup mismatch")
	}
}
