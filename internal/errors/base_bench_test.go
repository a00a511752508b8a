package errors

import (
	"fmt"
	"testing"
)

func BenchmarkWrap(b *testing.B) {
	b.Run("wrap", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			err := Wrap(errCause, "ledger append")
			_ = err.Error()
		}
	})

	b.Run("wrap nil", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Wrap(nil, "ledger append")
		}
	})

	b.Run("fmt errorf", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			err := fmt.Errorf("ledger append: %w", errCause)
			_ = err.Error()
		}
	})
}
