package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

func TestPostgresDocumentRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	h := NewHandler()
	require.NoError(t, h.AddPurchasePolicy(MaxItems{N: 5}))
	_, err = h.AddDiscount(Percentage{Scope: ScopeStore, Rate: dec("10")})
	require.NoError(t, err)
	raw, err := json.Marshal(h.Document())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO store_policies").
		WithArgs("s1", raw).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveDocument(context.Background(), "s1", h.Document()))

	mock.ExpectQuery("SELECT document FROM store_policies").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(raw))
	doc, err := repo.LoadDocument(context.Background(), "s1")
	require.NoError(t, err)

	rebuilt, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, []PurchasePolicy{MaxItems{N: 5}}, rebuilt.PurchasePolicies())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadMissingDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT document FROM store_policies").WillReturnError(sql.ErrNoRows)
	_, err = NewPostgresRepository(db).LoadDocument(context.Background(), "s1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.LoadDocument(ctx, "s1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	doc := NewHandler().Document()
	require.NoError(t, repo.SaveDocument(ctx, "s1", doc))
	got, err := repo.LoadDocument(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	require.NoError(t, repo.DeleteDocument(ctx, "s1"))
	_, err = repo.LoadDocument(ctx, "s1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
