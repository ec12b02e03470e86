package cache

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgres creates a Postgres cache backed by pgxmock.
func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &Postgres{pool: mock, ttls: DefaultTTLs()}, mock
}

func TestPostgres_Get_Miss(t *testing.T) {
	c, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT val FROM response_cache`).
		WithArgs("deadbeef").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := c.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get_Hit(t *testing.T) {
	c, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT val FROM response_cache`).
		WithArgs("deadbeef").
		WillReturnRows(pgxmock.NewRows([]string{"val"}).AddRow([]byte(`{"records":[]}`)))

	val, ok, err := c.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"records":[]}`), val)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Set_Upserts(t *testing.T) {
	c, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO response_cache`).
		WithArgs("deadbeef", []byte("payload"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Set(context.Background(), "deadbeef", []byte("payload"), TierStandard)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteExpired(t *testing.T) {
	c, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM response_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := c.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
