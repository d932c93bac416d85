package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"flipflop-be/internal/logger"

	"go.uber.org/zap"
)

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NextNumber allocates the next order number, ORD-<year>-<seq6>, from the
// per-year row in order_number_sequences. Run on the checkout transaction the
// upsert holds the year's row lock until commit, and a rollback returns the
// number to the sequence.
func NextNumber(ctx context.Context, q rowQuerier, now time.Time) (string, error) {
	year := now.UTC().Year()

	var n int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO order_number_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET last_value = order_number_sequences.last_value + 1
		RETURNING last_value
	`, year).Scan(&n)
	if err != nil {
		logger.FromCtx(ctx).Error("order number allocation failed",
			zap.Int("year", year),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrSequence, err)
	}
	return FormatNumber(year, n), nil
}

func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("ORD-%d-%06d", year, seq)
}
