package bid

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
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

var stamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleBid() *Bid {
	return &Bid{
		ID: "b1", StoreID: "s1", ListingID: "l1", UserID: "dan", Price: dec("8"),
		Approvers: []string{"alice", "bob"}, ApprovedBy: []string{}, Status: StatusPending,
		CreatedAt: stamp, UpdatedAt: stamp,
	}
}

func bidRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "store_id", "listing_id", "user_id", "price", "approvers", "approved_by",
		"status", "counter_price", "purchase_id", "version", "created_at", "updated_at"})
}

func TestPostgresCreateBidDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bids")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateBid(context.Background(), sampleBid())
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetBid(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bids WHERE id=$1")).
		WithArgs("b1").
		WillReturnRows(bidRow().AddRow("b1", "s1", "l1", "dan", "8", "{alice,bob}", "{alice}",
			"COUNTERED", "11.5", "", 3, stamp, stamp))

	b, err := repo.GetBid(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, b.Approvers)
	assert.Equal(t, []string{"alice"}, b.ApprovedBy)
	assert.Equal(t, StatusCountered, b.Status)
	require.NotNil(t, b.CounterPrice)
	assert.True(t, dec("11.5").Equal(*b.CounterPrice))
	assert.Equal(t, 3, b.Version)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bids WHERE id=$1")).
		WithArgs("zz").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetBid(context.Background(), "zz")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateBidComparesVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	update := regexp.QuoteMeta("UPDATE bids SET")

	b := sampleBid()
	b.Version = 2
	mock.ExpectExec(update).
		WithArgs("b1", 2, sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg(), "", stamp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateBid(context.Background(), b))
	assert.Equal(t, 3, b.Version)

	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	err := repo.UpdateBid(context.Background(), b)
	assert.ErrorIs(t, err, errStale)
	assert.Equal(t, 3, b.Version)

	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = repo.UpdateBid(context.Background(), b)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateAuctionEncodesOffers(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := &Auction{
		ID: "a1", StoreID: "s1", ListingID: "l1", OpenedBy: "alice", StartingPrice: dec("5"),
		EndsAt: stamp.Add(time.Hour), Status: AuctionOpen, WinningPrice: dec("0"), CreatedAt: stamp, UpdatedAt: stamp,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auctions")).
		WithArgs("a1", "s1", "l1", "alice", sqlmock.AnyArg(), a.EndsAt, []byte("[]"), "OPEN",
			"", sqlmock.AnyArg(), "", 0, stamp, stamp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreateAuction(context.Background(), a))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auctions")).
		WillReturnError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, repo.CreateAuction(context.Background(), a), apperr.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDue(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows([]string{"id", "store_id", "listing_id", "opened_by", "starting_price", "ends_at",
		"offers", "status", "winner_id", "winning_price", "purchase_id", "version", "created_at", "updated_at"}).
		AddRow("a1", "s1", "l1", "alice", "5", stamp, []byte(`[{"user_id":"dan","price":"6","created_at":"2026-01-02T03:00:00Z"}]`),
			"OPEN", "", "0", "", 1, stamp, stamp)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status='OPEN' AND ends_at <= $1")).
		WithArgs(stamp).
		WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), stamp)
	require.NoError(t, err)
	require.Len(t, due, 1)
	best, ok := due[0].Highest()
	require.True(t, ok)
	assert.Equal(t, "dan", best.UserID)
	assert.True(t, dec("6").Equal(best.Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}
