package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hakrNJN/user-management-service-sub003/internal/dynamofake"
	"github.com/hakrNJN/user-management-service-sub003/rbac"
)

func newRelationshipStore(t *testing.T) (*rbac.RelationshipStore, *dynamofake.Fake) {
	t.Helper()
	provider, fake := newTestProvider(t)
	return rbac.NewRelationshipStore(provider, nil, discardLogger()), fake
}

func mustAssign(t *testing.T, store *rbac.RelationshipStore, tenantID string, owner, target rbac.Ref, kind rbac.RelationKind) {
	t.Helper()
	if err := store.Assign(context.Background(), tenantID, owner, target, kind); err != nil {
		t.Fatalf("assign %s %s->%s failed: %v", kind, owner.Name, target.Name, err)
	}
}

// --- Assign Tests ---

func TestAssign(t *testing.T) {
	store, fake := newRelationshipStore(t)

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	if !fake.Has("TENANT#t1#ROLE#editor", "TENANT#t1#PERM#doc:write") {
		t.Error("expected edge record with tenant-qualified endpoints")
	}
	item := fake.Item("TENANT#t1#ROLE#editor", "TENANT#t1#PERM#doc:write")
	if got := getString(t, item, "relation_kind"); got != "ROLE_PERMISSION" {
		t.Errorf("unexpected relation_kind %q", got)
	}
}

func TestAssign_Idempotent(t *testing.T) {
	store, fake := newRelationshipStore(t)

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	if fake.Len() != 1 {
		t.Errorf("expected a single edge record, got %d", fake.Len())
	}
}

func TestAssign_Validation(t *testing.T) {
	store, _ := newRelationshipStore(t)
	ctx := context.Background()

	if err := store.Assign(ctx, "t1", rbac.RoleRef("r"), rbac.PermissionRef("p"), "NO_SUCH_KIND"); err == nil {
		t.Error("expected error for unknown relation kind")
	}
	// Endpoint types must match the declared relation shape.
	if err := store.Assign(ctx, "t1", rbac.UserRef("u"), rbac.PermissionRef("p"), rbac.RolePermission); err == nil {
		t.Error("expected error for mismatched owner type")
	}
	if err := store.Assign(ctx, "t1", rbac.RoleRef("r"), rbac.RoleRef("r2"), rbac.RolePermission); err == nil {
		t.Error("expected error for mismatched target type")
	}
	if err := store.Assign(ctx, "", rbac.RoleRef("r"), rbac.PermissionRef("p"), rbac.RolePermission); err == nil {
		t.Error("expected error for empty tenant id")
	}
}

// --- Remove Tests ---

func TestRemove(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	if err := store.Remove(ctx, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if fake.Len() != 0 {
		t.Error("edge should be gone")
	}

	// Removing again is a no-op.
	if err := store.Remove(ctx, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write")); err != nil {
		t.Errorf("repeat remove errored: %v", err)
	}
}

// --- Query Tests ---

func TestQueryForwardAndReverse(t *testing.T) {
	store, _ := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:read"), rbac.RolePermission)
	mustAssign(t, store, "t1", rbac.RoleRef("admin"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	// Same names in another tenant stay invisible.
	mustAssign(t, store, "t2", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	perms, err := store.QueryForward(ctx, "t1", rbac.RoleRef("editor"), rbac.EntityPermission)
	if err != nil {
		t.Fatalf("forward query failed: %v", err)
	}
	if len(perms) != 2 || perms[0] != "doc:read" || perms[1] != "doc:write" {
		t.Errorf("unexpected forward result: %v", perms)
	}

	roles, err := store.QueryReverse(ctx, "t1", rbac.PermissionRef("doc:write"), rbac.EntityRole)
	if err != nil {
		t.Fatalf("reverse query failed: %v", err)
	}
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "editor" {
		t.Errorf("unexpected reverse result: %v", roles)
	}
}

func TestQueryForward_Empty(t *testing.T) {
	store, _ := newRelationshipStore(t)

	perms, err := store.QueryForward(context.Background(), "t1", rbac.RoleRef("lonely"), rbac.EntityPermission)
	if err != nil {
		t.Fatalf("forward query failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("expected no results, got %v", perms)
	}
}

// --- Cascade Cleanup Tests ---

func TestRemoveAllAssignmentsFor(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	// The role is owner of permission edges and target of group and user edges.
	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:read"), rbac.RolePermission)
	mustAssign(t, store, "t1", rbac.GroupRef("writers"), rbac.RoleRef("editor"), rbac.GroupRole)
	mustAssign(t, store, "t1", rbac.UserRef("u-1"), rbac.RoleRef("editor"), rbac.UserRole)
	// Unrelated edges survive.
	mustAssign(t, store, "t1", rbac.RoleRef("admin"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	mustAssign(t, store, "t2", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	count, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.RoleRef("editor"))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 edges deleted, got %d", count)
	}

	if perms, _ := store.QueryForward(ctx, "t1", rbac.RoleRef("editor"), rbac.EntityPermission); len(perms) != 0 {
		t.Errorf("forward edges survived: %v", perms)
	}
	if groups, _ := store.QueryReverse(ctx, "t1", rbac.RoleRef("editor"), rbac.EntityGroup); len(groups) != 0 {
		t.Errorf("group edges survived: %v", groups)
	}
	if !fake.Has("TENANT#t1#ROLE#admin", "TENANT#t1#PERM#doc:write") {
		t.Error("unrelated edge in the same tenant was deleted")
	}
	if !fake.Has("TENANT#t2#ROLE#editor", "TENANT#t2#PERM#doc:write") {
		t.Error("edge in another tenant was deleted")
	}
}

func TestRemoveAllAssignmentsFor_Scenario(t *testing.T) {
	store, _ := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)

	perms, err := store.QueryForward(ctx, "t1", rbac.RoleRef("editor"), rbac.EntityPermission)
	if err != nil {
		t.Fatalf("forward query failed: %v", err)
	}
	if len(perms) != 1 || perms[0] != "doc:write" {
		t.Fatalf("expected [doc:write], got %v", perms)
	}

	count, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.PermissionRef("doc:write"))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 edge deleted, got %d", count)
	}

	perms, err = store.QueryForward(ctx, "t1", rbac.RoleRef("editor"), rbac.EntityPermission)
	if err != nil {
		t.Fatalf("forward query failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("expected empty result after cleanup, got %v", perms)
	}
}

func TestRemoveAllAssignmentsFor_NoEdges(t *testing.T) {
	store, fake := newRelationshipStore(t)

	count, err := store.RemoveAllAssignmentsFor(context.Background(), "t1", rbac.RoleRef("lonely"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deletions, got %d", count)
	}
	if fake.BatchCalls() != 0 {
		t.Errorf("expected no batch call for empty edge set, got %d", fake.BatchCalls())
	}
}

func TestRemoveAllAssignmentsFor_RetriesUnprocessed(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	fake.UnprocessedBatches = 1

	count, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.RoleRef("editor"))
	if err != nil {
		t.Fatalf("cleanup failed despite retry budget: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 edge deleted, got %d", count)
	}
	if fake.BatchCalls() != 2 {
		t.Errorf("expected 2 batch calls, got %d", fake.BatchCalls())
	}
}

func TestRemoveAllAssignmentsFor_ExhaustsRetryBudget(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	fake.UnprocessedBatches = 100

	_, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.RoleRef("editor"))
	var delErr *rbac.CleanupDeleteError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected CleanupDeleteError, got %v", err)
	}
	if delErr.Remaining != 1 {
		t.Errorf("expected 1 key remaining, got %d", delErr.Remaining)
	}
}

func TestRemoveAllAssignmentsFor_QueryFault(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	edges := fake.Len()
	fake.QueryErr = errors.New("backend down")

	_, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.RoleRef("editor"))
	var qErr *rbac.CleanupQueryError
	if !errors.As(err, &qErr) {
		t.Fatalf("expected CleanupQueryError, got %v", err)
	}
	// Enumeration failures abort before any delete.
	if fake.BatchCalls() != 0 {
		t.Errorf("expected no deletes after enumeration fault, got %d batch calls", fake.BatchCalls())
	}
	if fake.Len() != edges {
		t.Errorf("edge count changed: %d -> %d", edges, fake.Len())
	}
}

func TestRemoveAllAssignmentsFor_DeleteFault(t *testing.T) {
	store, fake := newRelationshipStore(t)
	ctx := context.Background()

	mustAssign(t, store, "t1", rbac.RoleRef("editor"), rbac.PermissionRef("doc:write"), rbac.RolePermission)
	boom := errors.New("backend down")
	fake.BatchErr = boom

	_, err := store.RemoveAllAssignmentsFor(ctx, "t1", rbac.RoleRef("editor"))
	var delErr *rbac.CleanupDeleteError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected CleanupDeleteError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected CleanupDeleteError to wrap the backend fault")
	}
}
