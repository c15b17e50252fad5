package database

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerReady(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM grants`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	assert.NoError(t, LedgerReady(db)(context.Background()))

	mock.ExpectQuery(`SELECT count\(\*\) FROM grants`).
		WillReturnError(errors.New(`pq: relation "grants" does not exist`))
	err = LedgerReady(db)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}
