package roles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/logging"
)

type recordingJournal struct {
	mu    sync.Mutex
	saves int
	last  []Assignment
	fail  error
}

func (j *recordingJournal) SaveAssignments(_ context.Context, _ string, rows []Assignment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.saves++
	j.last = rows
	return nil
}

func (j *recordingJournal) DeleteAssignments(context.Context, string) error { return nil }

func newTestLedger(t *testing.T, journal Journal) *Ledger {
	t.Helper()
	reg := NewRegistry(journal, logging.Discard())
	l, err := reg.Create(context.Background(), "store-1", "founder")
	require.NoError(t, err)
	return l
}

func TestAppointBuildsForest(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)

	require.NoError(t, l.AddOwner(ctx, "founder", "o1"))
	require.NoError(t, l.AddOwner(ctx, "o1", "o2"))
	require.NoError(t, l.AddManager(ctx, "o2", "m1"))

	assert.True(t, l.IsOwner("founder"))
	assert.True(t, l.IsOwner("o2"))
	assert.False(t, l.IsOwner("m1"))
	assert.True(t, l.IsManager("m1"))

	by, ok := l.AppointerOf("o2")
	assert.True(t, ok)
	assert.Equal(t, "o1", by)
	_, ok = l.AppointerOf("founder")
	assert.False(t, ok)

	assert.Equal(t, []string{"founder", "o1", "o2"}, l.Owners())
	assert.Equal(t, []string{"m1"}, l.Managers())
}

func TestAppointRejections(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddManager(ctx, "founder", "m1"))

	err := l.AddOwner(ctx, "stranger", "x")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	err = l.AddOwner(ctx, "m1", "x")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	err = l.AddOwner(ctx, "founder", "m1")
	assert.ErrorIs(t, err, apperr.ErrDuplicateRole)

	err = l.AddManager(ctx, "founder", "founder")
	assert.ErrorIs(t, err, apperr.ErrDuplicateRole)

	err = l.AddManager(ctx, "founder", " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestPermissionsAreScopedToAppointer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "o1"))
	require.NoError(t, l.AddManager(ctx, "founder", "m1"))

	perms, err := l.PermissionsOf("m1", "m1")
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.False(t, l.HasPermission("m1", PermissionEditProducts))

	err = l.GrantPermission(ctx, "m1", "o1", PermissionEditProducts)
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
	assert.False(t, l.HasPermission("m1", PermissionEditProducts))

	require.NoError(t, l.GrantPermission(ctx, "m1", "founder", "edit_products"))
	assert.True(t, l.HasPermission("m1", PermissionEditProducts))
	assert.False(t, l.HasPermission("m1", PermissionEditPolicies))

	require.NoError(t, l.GrantPermission(ctx, "m1", "founder", PermissionEditProducts), "repeat grant is a no-op")

	err = l.RevokePermission(ctx, "m1", "o1", PermissionEditProducts)
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
	require.NoError(t, l.RevokePermission(ctx, "m1", "founder", PermissionEditProducts))
	assert.False(t, l.HasPermission("m1", PermissionEditProducts))

	err = l.GrantPermission(ctx, "o1", "founder", PermissionViewOnly)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = l.GrantPermission(ctx, "m1", "founder", "FLY")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = l.PermissionsOf("m1", "stranger")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
}

func TestOwnersHoldEveryPermission(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "o1"))

	for _, p := range AllPermissions {
		assert.True(t, l.HasPermission("founder", p))
		assert.True(t, l.HasPermission("o1", p))
		assert.False(t, l.HasPermission("stranger", p))
	}
}

func TestRemoveOwnerCascades(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "a"))
	require.NoError(t, l.AddOwner(ctx, "a", "b"))
	require.NoError(t, l.AddOwner(ctx, "b", "c"))
	require.NoError(t, l.AddManager(ctx, "b", "m1"))
	require.NoError(t, l.AddManager(ctx, "c", "m2"))
	require.NoError(t, l.AddOwner(ctx, "founder", "z"))

	removed, err := l.RemoveOwner(ctx, "founder", "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "b", "a"}, removed.Owners)
	assert.ElementsMatch(t, []string{"m1", "m2"}, removed.Managers)

	for _, id := range removed.All() {
		_, held := l.RoleOf(id)
		assert.False(t, held, id)
	}
	assert.Equal(t, []string{"founder", "z"}, l.Owners())
	assert.Empty(t, l.Managers())

	// a removed user can be appointed again from scratch
	require.NoError(t, l.AddManager(ctx, "z", "b"))
	perms, err := l.PermissionsOf("b", "z")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestRemoveOwnerRejections(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "a"))
	require.NoError(t, l.AddOwner(ctx, "a", "b"))
	require.NoError(t, l.AddManager(ctx, "a", "m"))

	_, err := l.RemoveOwner(ctx, "a", "founder")
	assert.ErrorIs(t, err, apperr.ErrFounderProtected)
	_, err = l.RemoveOwner(ctx, "founder", "founder")
	assert.ErrorIs(t, err, apperr.ErrFounderProtected)

	_, err = l.RemoveOwner(ctx, "founder", "b")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized, "only the direct appointer may remove")

	_, err = l.RemoveOwner(ctx, "a", "m")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = l.RemoveOwner(ctx, "stranger", "b")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	assert.Equal(t, []string{"a", "b", "founder"}, l.Owners())
}

func TestRemoveManager(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "o1"))
	require.NoError(t, l.AddManager(ctx, "founder", "m1"))

	assert.ErrorIs(t, l.RemoveManager(ctx, "o1", "m1"), apperr.ErrNotAuthorized)
	assert.ErrorIs(t, l.RemoveManager(ctx, "founder", "o1"), apperr.ErrNotFound)
	require.NoError(t, l.RemoveManager(ctx, "founder", "m1"))
	assert.False(t, l.IsManager("m1"))
}

func TestFailedJournalLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	j := &recordingJournal{}
	l := newTestLedger(t, j)
	require.NoError(t, l.AddOwner(ctx, "founder", "a"))
	require.NoError(t, l.AddManager(ctx, "a", "m"))
	before := l.Snapshot()

	j.fail = errors.New("disk full")

	assert.Error(t, l.AddOwner(ctx, "founder", "b"))
	assert.Error(t, l.GrantPermission(ctx, "m", "a", PermissionApproveBids))
	_, err := l.RemoveOwner(ctx, "founder", "a")
	assert.Error(t, err)
	assert.Error(t, l.RemoveManager(ctx, "a", "m"))

	assert.Equal(t, before, l.Snapshot())
	assert.True(t, l.IsOwner("a"))
	assert.False(t, l.HasPermission("m", PermissionApproveBids))
}

func TestSnapshotOrdersAppointersFirst(t *testing.T) {
	ctx := context.Background()
	j := &recordingJournal{}
	l := newTestLedger(t, j)
	require.NoError(t, l.AddOwner(ctx, "founder", "a"))
	require.NoError(t, l.AddManager(ctx, "a", "m"))
	require.NoError(t, l.GrantPermission(ctx, "m", "a", PermissionApproveBids))
	require.NoError(t, l.GrantPermission(ctx, "m", "a", PermissionViewOnly))

	assert.Equal(t, []Assignment{
		{UserID: "founder", Role: RoleFounder},
		{UserID: "a", Role: RoleOwner, AppointedBy: "founder"},
		{UserID: "m", Role: RoleManager, AppointedBy: "a", Permissions: []Permission{PermissionViewOnly, PermissionApproveBids}},
	}, j.last)
	assert.Equal(t, 5, j.saves)
}

func TestStaffAndBidApprovers(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddOwner(ctx, "founder", "o1"))
	require.NoError(t, l.AddManager(ctx, "founder", "m1"))
	require.NoError(t, l.AddManager(ctx, "founder", "m2"))
	require.NoError(t, l.GrantPermission(ctx, "m2", "founder", PermissionApproveBids))

	assert.Equal(t, []string{"founder", "m2", "o1"}, l.BidApprovers())

	staff, err := l.Staff("o1")
	require.NoError(t, err)
	require.Len(t, staff, 4)
	assert.Equal(t, StaffMember{UserID: "m2", Role: RoleManager, AppointedBy: "founder", Permissions: []Permission{PermissionApproveBids}}, staff[2])
	assert.Nil(t, staff[0].Permissions)

	_, err = l.Staff("m1")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
}

func TestConcurrentAppointmentsKeepForestConsistent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- l.AddOwner(ctx, "founder", fmt.Sprintf("o%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			// every user is contested by two appointments; exactly one may win
			errs <- l.AddManager(ctx, "founder", fmt.Sprintf("o%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrDuplicateRole):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 50, ok)
	assert.Equal(t, 50, dup)
	assert.Len(t, l.Snapshot(), 51)
	assert.Equal(t, 51, len(l.Owners())+len(l.Managers()))
}
