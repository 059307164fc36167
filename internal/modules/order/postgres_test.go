package order

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func samplePurchase() *Purchase {
	d := decimal.NewFromInt
	return &Purchase{
		ID:            "p1",
		UserID:        "dan",
		Subtotal:      d(10),
		Discount:      d(2),
		Total:         d(8),
		TransactionID: "tx-1",
		TrackingID:    "trk-1",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Stores: []StorePurchase{{
			StoreID:  "s1",
			Subtotal: d(10),
			Discount: d(2),
			Total:    d(8),
			Lines: []Line{
				{ListingID: "l1", Name: "pen", Quantity: 2, UnitPrice: d(3), LineTotal: d(6)},
				{ListingID: "l2", Name: "ink", Quantity: 1, UnitPrice: d(4), LineTotal: d(4)},
			},
		}},
	}
}

func TestPostgresCreatePurchaseInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := samplePurchase()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchases")).
		WithArgs("p1", "dan", p.Subtotal, p.Discount, p.Total, "tx-1", "trk-1", p.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO store_purchases")).
		WithArgs("p1", "s1", p.Subtotal, p.Discount, p.Total).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchase_lines")).
		WithArgs("p1", "s1", "l1", "pen", 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchase_lines")).
		WithArgs("p1", "s1", "l2", "ink", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreatePurchase(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreatePurchaseRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchases")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO store_purchases")).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	require.Error(t, repo.CreatePurchase(context.Background(), samplePurchase()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPurchase(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchases WHERE id=$1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "subtotal", "discount", "total", "transaction_id", "tracking_id", "created_at"}).
			AddRow("p1", "dan", "10", "2", "8", "tx-1", "trk-1", created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM store_purchases WHERE purchase_id=$1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"store_id", "subtotal", "discount", "total"}).
			AddRow("s1", "10", "2", "8"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_lines WHERE purchase_id=$1 AND store_id=$2")).
		WithArgs("p1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"listing_id", "name", "quantity", "unit_price", "line_total"}).
			AddRow("l1", "pen", 2, "3", "6"))

	p, err := repo.GetPurchase(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "trk-1", p.TrackingID)
	require.Len(t, p.Stores, 1)
	require.Len(t, p.Stores[0].Lines, 1)
	assert.True(t, p.Stores[0].Lines[0].LineTotal.Equal(decimal.NewFromInt(6)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPurchaseNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM purchases WHERE id=$1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPurchase(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresListByStore(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM store_purchases sp")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "subtotal", "discount", "total"}).
			AddRow("p1", "dan", created, "10", "2", "8"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM purchase_lines")).
		WithArgs("p1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"listing_id", "name", "quantity", "unit_price", "line_total"}).
			AddRow("l1", "pen", 2, "3", "6"))

	sales, err := repo.ListByStore(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "dan", sales[0].UserID)
	assert.Equal(t, "s1", sales[0].StoreID)
	assert.Len(t, sales[0].Lines, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
