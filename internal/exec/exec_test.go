package exec

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgxRunner_RunScansRowsByColumnName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"country", "total"}).
		AddRow("CA", 5.0).
		AddRow("US", 30.0)
	mock.ExpectQuery(`SELECT .*`).WillReturnRows(rows)

	runner := &PgxRunner{Pool: mock}
	result, err := runner.Run(context.Background(), "SELECT country, total FROM orders", nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "CA", result.Rows[0]["country"])
	assert.Equal(t, "US", result.Rows[1]["country"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxRunner_RunClassifiesDriverError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .*`).WillReturnError(assertErr{})

	runner := &PgxRunner{Pool: mock}
	_, err = runner.Run(context.Background(), "SELECT 1", nil)
	require.Error(t, err)

	var classified *ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "driver-error", classified.Kind)
}

func TestPgxRunner_RunPassesArgsThrough(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id"}).AddRow(int64(1))
	mock.ExpectQuery(`SELECT id FROM orders WHERE country = \$1`).
		WithArgs("CA").
		WillReturnRows(rows)

	runner := &PgxRunner{Pool: mock}
	result, err := runner.Run(context.Background(), "SELECT id FROM orders WHERE country = $1", []any{"CA"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated driver error" }

func TestCoerceRow_LeavesUnlistedFieldsUntouched(t *testing.T) {
	row := Row{"count": int64(3), "label": "unchanged"}
	err := CoerceRow(nil, row, nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", row["label"])
}
