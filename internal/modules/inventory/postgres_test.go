package inventory

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/logging"
)

func newMockLedger(t *testing.T) (Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedger(db, logging.Discard()), mock
}

var (
	lockQuery  = regexp.QuoteMeta("SELECT id,store_id,quantity,is_active FROM listings")
	deductStmt = regexp.QuoteMeta("UPDATE listings SET quantity=quantity-$1")
	addStmt    = regexp.QuoteMeta("UPDATE listings SET quantity=quantity+$1")
)

func TestPostgresReserveCommitsInIDOrder(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WithArgs(`{"A","B"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "store_id", "quantity", "is_active"}).
			AddRow("A", "s1", 10, true).
			AddRow("B", "s1", 5, true))
	mock.ExpectExec(deductStmt).WithArgs(2, "A").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(deductStmt).WithArgs(5, "B").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.ReserveAndCommit(context.Background(), Cuts{"s1": {"B": 5, "A": 2}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveRollsBackWhenShort(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "store_id", "quantity", "is_active"}).
			AddRow("A", "s1", 10, true).
			AddRow("B", "s1", 1, true))
	mock.ExpectRollback()

	err := ledger.ReserveAndCommit(context.Background(), Cuts{"s1": {"A": 2, "B": 5}})
	var short *apperr.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "B", short.ListingID)
	assert.NoError(t, mock.ExpectationsWereMet(), "no UPDATE may run")
}

func TestPostgresReserveMissingListing(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "store_id", "quantity", "is_active"}).
			AddRow("A", "s1", 10, true))
	mock.ExpectRollback()

	err := ledger.ReserveAndCommit(context.Background(), Cuts{"s1": {"A": 1, "Z": 1}})
	assert.ErrorIs(t, err, apperr.ErrListingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRelease(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(addStmt).WithArgs(2, "A").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(addStmt).WithArgs(5, "B").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, ledger.Release(context.Background(), Cuts{"s1": {"A": 2, "B": 5}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRestockMissingListing(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec(addStmt).WithArgs(3, "Z").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, ledger.Restock(context.Background(), "Z", 3), apperr.ErrListingNotFound)
	assert.ErrorIs(t, ledger.Restock(context.Background(), "Z", -3), apperr.ErrInvalidArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetListingNotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + listingColumns + " FROM listings WHERE id=$1")).
		WithArgs("Z").
		WillReturnError(sql.ErrNoRows)
	_, err := ledger.GetListing(context.Background(), "Z")
	assert.ErrorIs(t, err, apperr.ErrListingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
