package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/logging"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
	"github.com/georgemunganga/marketplace/internal/modules/roles"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]string)
	}
	n.sent[userID] = append(n.sent[userID], message)
	return true
}

func (n *recordingNotifier) count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[userID])
}

// failingPolicies fails every save once armed.
type failingPolicies struct {
	policy.Repository
	fail bool
}

func (f *failingPolicies) SaveDocument(ctx context.Context, storeID string, doc policy.Document) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Repository.SaveDocument(ctx, storeID, doc)
}

type fixture struct {
	svc         Service
	stores      Repository
	policies    *failingPolicies
	assignments roles.Repository
	ledger      *inventory.MemoryLedger
	notifier    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stores:      NewMemoryRepository(),
		policies:    &failingPolicies{Repository: policy.NewMemoryRepository()},
		assignments: roles.NewMemoryRepository(),
		ledger:      inventory.NewMemoryLedger(logging.Discard()),
		notifier:    &recordingNotifier{},
	}
	f.svc = f.build()
	return f
}

// build wires a fresh coordinator over the fixture's storage.
func (f *fixture) build() Service {
	log := logging.Discard()
	return NewService(Deps{
		Stores:      f.stores,
		Roles:       roles.NewRegistry(f.assignments, log),
		Assignments: f.assignments,
		Policies:    f.policies,
		Listings:    inventory.NewService(f.ledger, log),
		Notifier:    f.notifier,
		Log:         log,
	})
}

func (f *fixture) openStore(t *testing.T, founder, name string) *Store {
	t.Helper()
	st, err := f.svc.CreateStore(context.Background(), founder, CreateStoreRequest{Name: name})
	require.NoError(t, err)
	return st
}

func (f *fixture) list(t *testing.T, storeID, by, name, category string, price int64, qty int) *inventory.Listing {
	t.Helper()
	l, err := f.svc.AddListing(context.Background(), storeID, by, inventory.AddListingRequest{
		Name:     name,
		Category: category,
		Price:    decimal.NewFromInt(price),
		Quantity: qty,
	})
	require.NoError(t, err)
	return l
}

func TestCreateStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	st := f.openStore(t, "alice", "Books & Co")
	assert.True(t, st.IsActive)
	assert.Equal(t, "alice", st.FounderID)

	owners, err := f.svc.Owners(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)

	_, err = f.svc.CreateStore(ctx, "bob", CreateStoreRequest{Name: "books & co"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists, "names are unique regardless of case")

	_, err = f.svc.CreateStore(ctx, "", CreateStoreRequest{Name: "Nobody's"})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = f.svc.CreateStore(ctx, "bob", CreateStoreRequest{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	doc, err := f.svc.Policies(ctx, st.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, doc.Purchases)
	assert.Equal(t, "SUM", doc.Combination)
}

func TestCreateStoreUndoesPartialWork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.policies.fail = true

	_, err := f.svc.CreateStore(ctx, "alice", CreateStoreRequest{Name: "Half"})
	require.Error(t, err)

	_, err = f.stores.GetStoreByName(ctx, "Half")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.policies.fail = false
	f.openStore(t, "alice", "Half")
}

func TestOpenAndCloseAreFounderOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	require.NoError(t, f.svc.AppointOwner(ctx, st.ID, "alice", "bob"))
	l := f.list(t, st.ID, "alice", "pen", "office", 2, 10)

	assert.ErrorIs(t, f.svc.CloseStore(ctx, st.ID, "bob"), apperr.ErrNotAuthorized)

	before := f.notifier.count("bob")
	require.NoError(t, f.svc.CloseStore(ctx, st.ID, "alice"))
	assert.Equal(t, before+1, f.notifier.count("bob"), "staff hear about the closure")
	assert.Zero(t, f.notifier.count("alice"), "the founder is not told about their own action")

	got, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = f.svc.Quote(ctx, st.ID, policy.Cart{Items: map[string]int{l.ID: 1}})
	assert.ErrorIs(t, err, apperr.ErrStoreClosed)

	require.NoError(t, f.svc.CloseStore(ctx, st.ID, "alice"), "closing twice is a no-op")
	require.NoError(t, f.svc.OpenStore(ctx, st.ID, "alice"))
	_, err = f.svc.Quote(ctx, st.ID, policy.Cart{Items: map[string]int{l.ID: 1}})
	assert.NoError(t, err)
}

func TestListingEditsNeedEditProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	other := f.openStore(t, "zed", "Elsewhere")
	require.NoError(t, f.svc.AppointManager(ctx, st.ID, "alice", "mia"))

	_, err := f.svc.AddListing(ctx, st.ID, "mia", inventory.AddListingRequest{Name: "x", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
	_, err = f.svc.AddListing(ctx, st.ID, "stranger", inventory.AddListingRequest{Name: "x", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	require.NoError(t, f.svc.GrantPermission(ctx, st.ID, "alice", "mia", roles.PermissionEditProducts))
	assert.Equal(t, 2, f.notifier.count("mia"), "appointment and grant are both announced")

	l := f.list(t, st.ID, "mia", "mug", "kitchen", 8, 3)
	require.NoError(t, f.svc.Restock(ctx, st.ID, "mia", l.ID, 2))
	require.NoError(t, f.svc.SetQuantity(ctx, st.ID, "mia", l.ID, 7))

	name := "big mug"
	edited, err := f.svc.EditListing(ctx, st.ID, "mia", l.ID, inventory.EditListingRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "big mug", edited.Name)
	assert.Equal(t, 7, edited.Quantity)

	foreign := f.list(t, other.ID, "zed", "lamp", "home", 30, 1)
	err = f.svc.Restock(ctx, st.ID, "mia", foreign.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrListingNotFound, "listings of another store are out of reach")

	require.NoError(t, f.svc.RevokePermission(ctx, st.ID, "alice", "mia", roles.PermissionEditProducts))
	assert.ErrorIs(t, f.svc.RemoveListing(ctx, st.ID, "mia", l.ID), apperr.ErrNotAuthorized)
	require.NoError(t, f.svc.RemoveListing(ctx, st.ID, "alice", l.ID))
}

func TestPolicyEditsNeedEditPolicies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	require.NoError(t, f.svc.AppointManager(ctx, st.ID, "alice", "mia"))

	minTwo := policy.PurchaseRecord{Type: "MINITEMS", Value: decimal.NewFromInt(2)}
	assert.ErrorIs(t, f.svc.AddPurchasePolicy(ctx, st.ID, "mia", minTwo), apperr.ErrNotAuthorized)

	require.NoError(t, f.svc.GrantPermission(ctx, st.ID, "alice", "mia", roles.PermissionEditPolicies))
	require.NoError(t, f.svc.AddPurchasePolicy(ctx, st.ID, "mia", minTwo))
	assert.ErrorIs(t, f.svc.AddPurchasePolicy(ctx, st.ID, "mia", minTwo), apperr.ErrAlreadyExists)

	_, err := f.svc.Policies(ctx, st.ID, "stranger")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized, "viewing needs a role")
	doc, err := f.svc.Policies(ctx, st.ID, "mia")
	require.NoError(t, err)
	require.Len(t, doc.Purchases, 1)

	bad := policy.PurchaseRecord{Type: "LOTTERY"}
	assert.ErrorIs(t, f.svc.AddPurchasePolicy(ctx, st.ID, "alice", bad), apperr.ErrUnknownPolicyType)

	f.policies.fail = true
	_, err = f.svc.AddDiscount(ctx, st.ID, "alice", policy.DiscountRecord{Type: "PERCENTAGE", Value: decimal.NewFromInt(10)})
	require.Error(t, err)
	f.policies.fail = false
	doc, err = f.svc.Policies(ctx, st.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, doc.Discounts, "a failed save publishes nothing")

	idx, err := f.svc.AddDiscount(ctx, st.ID, "alice", policy.DiscountRecord{Type: "PERCENTAGE", Value: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	require.NoError(t, f.svc.SetDiscountCombination(ctx, st.ID, "alice", "MAXIMUM"))
	assert.ErrorIs(t, f.svc.RemoveDiscount(ctx, st.ID, "alice", 3), apperr.ErrNotFound)
	require.NoError(t, f.svc.RemoveDiscount(ctx, st.ID, "alice", 0))
	require.NoError(t, f.svc.RemovePurchasePolicy(ctx, st.ID, "alice", minTwo))
}

func TestQuote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	pen := f.list(t, st.ID, "alice", "pen", "office", 10, 50)
	book := f.list(t, st.ID, "alice", "novel", "books", 20, 50)

	_, err := f.svc.AddDiscount(ctx, st.ID, "alice", policy.DiscountRecord{
		Type:    "PERCENTAGE",
		Scope:   "CATEGORY",
		ScopeID: "books",
		Value:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, st.ID, policy.Cart{Items: map[string]int{pen.ID: 2, book.ID: 1}})
	require.NoError(t, err)
	assert.True(t, q.Subtotal.Equal(decimal.NewFromInt(40)), q.Subtotal.String())
	assert.True(t, q.Discount.Equal(decimal.NewFromInt(10)), q.Discount.String())
	assert.True(t, q.Total.Equal(decimal.NewFromInt(30)), q.Total.String())
	assert.Len(t, q.Lines, 2)

	require.NoError(t, f.svc.AddPurchasePolicy(ctx, st.ID, "alice", policy.PurchaseRecord{Type: "MINITEMS", Value: decimal.NewFromInt(3)}))
	require.NoError(t, f.svc.AddPurchasePolicy(ctx, st.ID, "alice", policy.PurchaseRecord{Type: "MINPRICE", Value: decimal.NewFromInt(100)}))

	_, err = f.svc.Quote(ctx, st.ID, policy.Cart{Items: map[string]int{pen.ID: 2}})
	var rejected *apperr.PurchaseRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Len(t, rejected.Violations, 2, "every failing policy is reported")

	_, err = f.svc.Quote(ctx, st.ID, policy.Cart{Items: map[string]int{"ghost": 3}})
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "LISTING", rejected.Violations[0].Policy)

	_, err = f.svc.Quote(ctx, st.ID, policy.Cart{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.Quote(ctx, "nope", policy.Cart{Items: map[string]int{pen.ID: 1}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveOwnerNotifiesEveryoneRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	require.NoError(t, f.svc.AppointOwner(ctx, st.ID, "alice", "bob"))
	require.NoError(t, f.svc.AppointOwner(ctx, st.ID, "bob", "cat"))
	require.NoError(t, f.svc.AppointManager(ctx, st.ID, "cat", "dan"))

	removed, err := f.svc.RemoveOwner(ctx, st.ID, "alice", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "cat"}, removed.Owners)
	assert.Equal(t, []string{"dan"}, removed.Managers)
	assert.Equal(t, 2, f.notifier.count("dan"), "appointed, then removed")

	staff, err := f.svc.Staff(ctx, st.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, staff, 1)

	_, err = f.svc.RemoveOwner(ctx, st.ID, "alice", "alice")
	assert.ErrorIs(t, err, apperr.ErrFounderProtected)
}

func TestRemoveStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	require.NoError(t, f.svc.AppointOwner(ctx, st.ID, "alice", "bob"))
	l := f.list(t, st.ID, "alice", "pen", "office", 1, 1)

	assert.ErrorIs(t, f.svc.RemoveStore(ctx, st.ID, "bob"), apperr.ErrNotAuthorized)
	require.NoError(t, f.svc.RemoveStore(ctx, st.ID, "alice"))

	_, err := f.svc.GetStore(ctx, st.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Owners(ctx, st.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.policies.LoadDocument(ctx, st.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	f.openStore(t, "carol", "Corner")
}

func TestLoadRestoresRolesAndPolicies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := f.openStore(t, "alice", "Corner")
	require.NoError(t, f.svc.AppointOwner(ctx, st.ID, "alice", "bob"))
	require.NoError(t, f.svc.AppointManager(ctx, st.ID, "bob", "mia"))
	require.NoError(t, f.svc.GrantPermission(ctx, st.ID, "bob", "mia", roles.PermissionEditPolicies))
	_, err := f.svc.AddDiscount(ctx, st.ID, "mia", policy.DiscountRecord{Type: "COUPON", CouponCode: "HELLO", Value: decimal.NewFromInt(5)})
	require.NoError(t, err)

	restarted := f.build()
	require.NoError(t, restarted.Load(ctx))

	perms, err := restarted.PermissionsOf(ctx, st.ID, "bob", "mia")
	require.NoError(t, err)
	assert.Equal(t, []roles.Permission{roles.PermissionEditPolicies}, perms)

	doc, err := restarted.Policies(ctx, st.ID, "mia")
	require.NoError(t, err)
	require.Len(t, doc.Discounts, 1)
	assert.Equal(t, "HELLO", doc.Discounts[0].CouponCode)

	assert.ErrorIs(t, restarted.AppointOwner(ctx, st.ID, "mia", "eve"), apperr.ErrNotAuthorized)
}
