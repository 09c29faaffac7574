package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salecore/internal/domain"
)

var paymentsTable = Table{
	Name:       "payments",
	PrimaryKey: "id",
	Columns:    []string{"id", "sale_id", "method", "amount", "status", "created_at", "updated_at"},
	Fillable:   []string{"sale_id", "method", "amount", "status"},
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(sqlx.NewDb(db, "sqlmock"), paymentsTable), mock
}

const findPaymentSQL = "SELECT id, sale_id, method, amount, status, created_at, updated_at FROM payments WHERE id = $1"

func TestFindSeparatesNotFoundFromPersistence(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	cols := []string{"id", "sale_id", "method", "amount", "status", "created_at", "updated_at"}
	now := time.Date(2025, 1, 23, 3, 0, 0, 0, time.UTC)

	mock.ExpectQuery(findPaymentSQL).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), int64(1), "qris", int64(22200), "pending", now, now))
	rec, err := s.Find(ctx, int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(22200), rec.Int64("amount"))
	assert.Equal(t, "qris", rec.String("method"))

	mock.ExpectQuery(findPaymentSQL).WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows(cols))
	_, err = s.Find(ctx, int64(4))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrPersistence)

	mock.ExpectQuery(findPaymentSQL).WithArgs(int64(5)).WillReturnError(errors.New("conn reset"))
	_, err = s.Find(ctx, int64(5))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteReportsMissingRow(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM payments WHERE id = $1").WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, int64(3)))

	mock.ExpectExec("DELETE FROM payments WHERE id = $1").WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.Delete(ctx, int64(9)), domain.ErrNotFound)

	mock.ExpectExec("DELETE FROM payments WHERE id = $1").WithArgs(int64(10)).
		WillReturnError(errors.New("deadlock detected"))
	require.ErrorIs(t, s.Delete(ctx, int64(10)), domain.ErrPersistence)
}

func TestCountAppliesFilter(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM payments WHERE sale_id = $1 AND status = $2").
		WithArgs(int64(1), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	n, err := s.Count(ctx, Filter{"status": "pending", "sale_id": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectQuery("SELECT COUNT(*) FROM payments").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	n, err = s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = s.Count(ctx, Filter{"password": "x"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestInsertDropsNonFillableFields(t *testing.T) {
	s := New(nil, paymentsTable)

	query, args, err := s.insertQuery(Record{
		"sale_id":  int64(4),
		"amount":   int64(1000),
		"id":       int64(99),
		"is_admin": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO payments (amount, sale_id) VALUES ($1, $2) RETURNING id", query)
	assert.Equal(t, []any{int64(1000), int64(4)}, args)

	_, _, err = s.insertQuery(Record{"id": 1})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	s := New(nil, paymentsTable)

	query, args, err := s.updateQuery(int64(3), Record{"status": "expired", "created_at": time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE payments SET status = $1, updated_at = now() WHERE id = $2", query)
	assert.Equal(t, []any{"expired", int64(3)}, args)
}

func TestSelectQueryValidatesOrderAndPaging(t *testing.T) {
	s := New(nil, paymentsTable)

	query, args, err := s.selectQuery(Filter{"status": "pending", "sale_id": int64(1)}, Order{Column: "created_at", Direction: "desc"}, 5000, -3)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, sale_id, method, amount, status, created_at, updated_at FROM payments WHERE sale_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1000",
		query)
	assert.Equal(t, []any{int64(1), "pending"}, args)

	rejected := []Order{
		{Column: "created_at; DROP TABLE payments"},
		{Column: "created_at", Direction: "DESC; --"},
		{Column: "not_a_column"},
		{Column: "amount", Direction: "sideways"},
	}
	for _, order := range rejected {
		_, _, err := s.selectQuery(nil, order, 10, 0)
		require.ErrorIsf(t, err, domain.ErrValidation, "order %+v", order)
	}

	_, _, err = s.selectQuery(Filter{"1=1 OR status": "x"}, Order{}, 0, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPagingClause(t *testing.T) {
	assert.Equal(t, "", pagingClause(0, 0))
	assert.Equal(t, " LIMIT 20 OFFSET 40", pagingClause(20, 40))
	assert.Equal(t, "", pagingClause(-5, -1))
}

func TestParseOrder(t *testing.T) {
	assert.Equal(t, Order{Column: "id", Direction: "DESC"}, ParseOrder(" id DESC "))
	assert.Equal(t, Order{Column: "id"}, ParseOrder("id"))
	assert.Equal(t, Order{}, ParseOrder(""))
}

func TestRecordAccessors(t *testing.T) {
	now := time.Now()
	rec := Record{
		"id":       int64(5),
		"bank":     []byte("bca"),
		"paid_at":  now,
		"callback": map[string]any{"a": 1},
		"flag":     true,
	}
	assert.Equal(t, int64(5), rec.Int64("id"))
	assert.Equal(t, "bca", rec.String("bank"))
	assert.Equal(t, now, *rec.TimePtr("paid_at"))
	assert.Nil(t, rec.TimePtr("missing"))
	assert.JSONEq(t, `{"a":1}`, string(rec.JSON("callback")))
	assert.Nil(t, rec.JSON("missing"))
	assert.True(t, rec.Bool("flag"))
}
