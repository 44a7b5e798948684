package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// RoleStore provides tenant-scoped CRUD over roles.
type RoleStore struct {
	kv     *kv.Provider
	logger *slog.Logger
}

// NewRoleStore creates a new RoleStore.
func NewRoleStore(provider *kv.Provider, logger *slog.Logger) *RoleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleStore{kv: provider, logger: logger}
}

func roleKey(tenantID, name string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.RolePrefix, name)}
}

// Create writes a new role. The role name must be unique within the tenant;
// a collision returns AlreadyExistsError and leaves the existing record
// untouched.
func (s *RoleStore) Create(ctx context.Context, role Role) (*Role, error) {
	if role.TenantID == "" || role.RoleName == "" {
		return nil, fmt.Errorf("rbac: tenant id and role name are required")
	}

	now := nowStamp()
	role.CreatedAt = now
	role.UpdatedAt = now

	item, err := attributevalue.MarshalMap(role)
	if err != nil {
		return nil, fmt.Errorf("marshal role: %w", err)
	}

	key := roleKey(role.TenantID, role.RoleName)
	if err := s.kv.PutIfAbsent(ctx, key, item); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return nil, &AlreadyExistsError{Kind: "role", Key: key}
		}
		return nil, storageErr(s.logger, "role create", key, err)
	}
	return &role, nil
}

// GetByName retrieves a role by name. Absence is (nil, nil).
func (s *RoleStore) GetByName(ctx context.Context, tenantID, name string) (*Role, error) {
	key := roleKey(tenantID, name)
	item, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, storageErr(s.logger, "role get", key, err)
	}
	if item == nil {
		return nil, nil
	}
	return unmarshalRole(item, key)
}

// List returns one page of the tenant's roles in name order, plus the
// continuation token for the next page (empty at end of results).
func (s *RoleStore) List(ctx context.Context, tenantID string, page kv.Page) ([]Role, string, error) {
	key := kv.Key{PK: keys.TenantPK(tenantID), SK: keys.RolePrefix}
	result, err := s.kv.QueryPrefix(ctx, key.PK, key.SK, page)
	if err != nil {
		return nil, "", storageErr(s.logger, "role list", key, err)
	}

	roles := make([]Role, 0, len(result.Items))
	for _, item := range result.Items {
		role, err := unmarshalRole(item, key)
		if err != nil {
			return nil, "", err
		}
		roles = append(roles, *role)
	}
	return roles, result.NextToken, nil
}

// Update applies the supplied fields and advances updated_at. Returns
// (false, nil) when the role does not exist.
func (s *RoleStore) Update(ctx context.Context, tenantID, name string, upd RoleUpdate) (bool, error) {
	set := map[string]types.AttributeValue{
		"updated_at": &types.AttributeValueMemberS{Value: nowStamp()},
	}
	var remove []string
	applyString(set, &remove, "description", upd.Description)

	key := roleKey(tenantID, name)
	if err := s.kv.UpdateIfPresent(ctx, key, set, remove); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return false, nil
		}
		return false, storageErr(s.logger, "role update", key, err)
	}
	return true, nil
}

// Delete removes a role. Returns (false, nil) when it was already absent;
// deleting twice is not an error. Relationship records referencing the role
// are not touched; see RelationshipStore.RemoveAllAssignmentsFor.
func (s *RoleStore) Delete(ctx context.Context, tenantID, name string) (bool, error) {
	key := roleKey(tenantID, name)
	found, err := s.kv.DeleteIfPresent(ctx, key)
	if err != nil {
		return false, storageErr(s.logger, "role delete", key, err)
	}
	return found, nil
}

func unmarshalRole(item map[string]types.AttributeValue, key kv.Key) (*Role, error) {
	var role Role
	if err := attributevalue.UnmarshalMap(item, &role); err != nil {
		return nil, &InvalidRecordError{Kind: "role", Key: key, Reason: err.Error()}
	}
	if role.TenantID == "" || role.RoleName == "" {
		return nil, &InvalidRecordError{Kind: "role", Key: key, Reason: "missing required fields"}
	}
	return &role, nil
}
