package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryCopiesRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	rows := []Assignment{
		{UserID: "alice", Role: RoleFounder},
		{UserID: "mia", Role: RoleManager, AppointedBy: "alice", Permissions: []Permission{PermissionEditProducts}},
	}
	require.NoError(t, repo.SaveAssignments(ctx, "s1", rows))
	rows[1].Permissions[0] = PermissionEditPolicies

	got, err := repo.LoadAssignments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []Permission{PermissionEditProducts}, got[1].Permissions, "saved rows do not alias the caller's")

	require.NoError(t, repo.DeleteAssignments(ctx, "s1"))
	got, err = repo.LoadAssignments(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
