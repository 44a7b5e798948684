package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hakrNJN/user-management-service-sub003/internal/dynamofake"
	"github.com/hakrNJN/user-management-service-sub003/kv"
	"github.com/hakrNJN/user-management-service-sub003/rbac"
)

func newPolicyStore(t *testing.T) (*rbac.PolicyStore, *dynamofake.Fake) {
	t.Helper()
	provider, fake := newTestProvider(t)
	return rbac.NewPolicyStore(provider, discardLogger()), fake
}

// --- Create Tests ---

func TestPolicyCreate_Defaults(t *testing.T) {
	store, fake := newPolicyStore(t)

	created, err := store.Create(context.Background(), rbac.Policy{
		TenantID:   "t1",
		PolicyName: "default-access",
		Definition: "package authz\nallow = false",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}
	if created.DefinitionLanguage != rbac.DefaultDefinitionLanguage {
		t.Errorf("expected default language %q, got %q", rbac.DefaultDefinitionLanguage, created.DefinitionLanguage)
	}
	if created.Version != "1" {
		t.Errorf("expected initial version '1', got %q", created.Version)
	}
	if !fake.Has("TENANT#t1", "POLICY#"+created.ID) {
		t.Error("expected policy record")
	}
	if !fake.Has("TENANT#t1", "POLICYNAME#default-access") {
		t.Error("expected name pointer record")
	}
}

func TestPolicyCreate_MissingFields(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	cases := []rbac.Policy{
		{PolicyName: "p", Definition: "d"},
		{TenantID: "t1", Definition: "d"},
		{TenantID: "t1", PolicyName: "p"},
	}
	for _, policy := range cases {
		if _, err := store.Create(ctx, policy); err == nil {
			t.Errorf("expected validation error for %+v", policy)
		}
	}
}

func TestPolicyCreate_DuplicateName(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "d"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "other"})
	var exists *rbac.AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected AlreadyExistsError, got %v", err)
	}
	if exists.Kind != "policy name" {
		t.Errorf("expected kind 'policy name', got %q", exists.Kind)
	}
}

// --- Get Tests ---

func TestPolicyGetByName(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "d"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	policy, err := store.GetByName(ctx, "t1", "p")
	if err != nil {
		t.Fatalf("get by name failed: %v", err)
	}
	if policy == nil || policy.ID != created.ID {
		t.Errorf("expected policy %s, got %+v", created.ID, policy)
	}
}

func TestPolicyGetByName_Absent(t *testing.T) {
	store, _ := newPolicyStore(t)

	policy, err := store.GetByName(context.Background(), "t1", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy != nil {
		t.Errorf("expected nil for absent name, got %+v", policy)
	}
}

func TestPolicyGetByName_DanglingPointer(t *testing.T) {
	store, fake := newPolicyStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "d"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Drop the policy record directly, leaving the pointer behind.
	fake.Remove("TENANT#t1", "POLICY#"+created.ID)

	_, err = store.GetByName(ctx, "t1", "p")
	var invalid *rbac.InvalidRecordError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRecordError for dangling pointer, got %v", err)
	}
}

// --- List Tests ---

func TestPolicyList_ExcludesPointers(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if _, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: name, Definition: "d"}); err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
	}

	// POLICYNAME# pointer records must not leak into the POLICY# listing.
	policies, _, err := store.List(ctx, "t1", kv.Page{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("expected 2 policies, got %d: %+v", len(policies), policies)
	}
}

// --- Update Tests ---

func TestPolicyUpdate(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, rbac.Policy{
		TenantID:   "t1",
		PolicyName: "p",
		Definition: "v1",
		Metadata:   map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	def, version := "v2", "2"
	active := true
	found, err := store.Update(ctx, "t1", created.ID, rbac.PolicyUpdate{
		Definition: &def,
		Version:    &version,
		IsActive:   &active,
	})
	if err != nil || !found {
		t.Fatalf("update: found=%v err=%v", found, err)
	}

	policy, err := store.GetByID(ctx, "t1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if policy.Definition != "v2" || policy.Version != "2" || !policy.IsActive {
		t.Errorf("unexpected policy after update: %+v", policy)
	}
	if policy.PolicyName != "p" {
		t.Errorf("policy name must be immutable, got %q", policy.PolicyName)
	}
	if len(policy.Metadata) != 1 || policy.Metadata["env"] != "prod" {
		t.Errorf("metadata changed unexpectedly: %v", policy.Metadata)
	}
}

func TestPolicyUpdate_ClearMetadata(t *testing.T) {
	store, _ := newPolicyStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, rbac.Policy{
		TenantID:   "t1",
		PolicyName: "p",
		Definition: "d",
		Metadata:   map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Empty non-nil map clears; nil leaves alone.
	if _, err := store.Update(ctx, "t1", created.ID, rbac.PolicyUpdate{Metadata: map[string]string{}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	policy, err := store.GetByID(ctx, "t1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(policy.Metadata) != 0 {
		t.Errorf("expected metadata cleared, got %v", policy.Metadata)
	}
}

func TestPolicyUpdate_Absent(t *testing.T) {
	store, _ := newPolicyStore(t)

	def := "d"
	found, err := store.Update(context.Background(), "t1", "no-such-id", rbac.PolicyUpdate{Definition: &def})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for absent policy")
	}
}

// --- Delete Tests ---

func TestPolicyDelete(t *testing.T) {
	store, fake := newPolicyStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "d"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	found, err := store.Delete(ctx, "t1", created.ID)
	if err != nil || !found {
		t.Fatalf("delete: found=%v err=%v", found, err)
	}
	if fake.Has("TENANT#t1", "POLICY#"+created.ID) {
		t.Error("policy record should be gone")
	}
	if fake.Has("TENANT#t1", "POLICYNAME#p") {
		t.Error("name pointer should be gone")
	}

	// The freed name is reusable.
	if _, err := store.Create(ctx, rbac.Policy{TenantID: "t1", PolicyName: "p", Definition: "d2"}); err != nil {
		t.Errorf("recreate after delete failed: %v", err)
	}
}

func TestPolicyDelete_Absent(t *testing.T) {
	store, _ := newPolicyStore(t)

	found, err := store.Delete(context.Background(), "t1", "no-such-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for absent policy")
	}
}
