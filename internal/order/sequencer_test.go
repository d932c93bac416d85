package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "ORD-2026-000001", FormatNumber(2026, 1))
	assert.Equal(t, "ORD-2026-123456", FormatNumber(2026, 123456))
	assert.Equal(t, "ORD-2027-1234567", FormatNumber(2027, 1234567))
}

func TestNextNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO order_number_sequences").
			WithArgs(2026).
			WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(42))

		n, err := NextNumber(context.Background(), db, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

		require.NoError(t, err)
		assert.Equal(t, "ORD-2026-000042", n)
	})

	t.Run("Partitioned by UTC year", func(t *testing.T) {
		riga := time.FixedZone("EET", 2*60*60)
		mock.ExpectQuery("INSERT INTO order_number_sequences").
			WithArgs(2026).
			WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(7))

		// 00:30 local on Jan 1st is still 2026 in UTC
		n, err := NextNumber(context.Background(), db, time.Date(2027, 1, 1, 0, 30, 0, 0, riga))

		require.NoError(t, err)
		assert.Equal(t, "ORD-2026-000007", n)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO order_number_sequences").
			WillReturnError(errors.New("db down"))

		_, err := NextNumber(context.Background(), db, time.Now())

		assert.ErrorIs(t, err, ErrSequence)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
