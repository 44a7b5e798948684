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

// PermissionStore provides tenant-scoped CRUD over permissions.
type PermissionStore struct {
	kv     *kv.Provider
	logger *slog.Logger
}

// NewPermissionStore creates a new PermissionStore.
func NewPermissionStore(provider *kv.Provider, logger *slog.Logger) *PermissionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionStore{kv: provider, logger: logger}
}

func permissionKey(tenantID, name string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.PermissionPrefix, name)}
}

// Create writes a new permission, unique by name within the tenant.
func (s *PermissionStore) Create(ctx context.Context, perm Permission) (*Permission, error) {
	if perm.TenantID == "" || perm.PermissionName == "" {
		return nil, fmt.Errorf("rbac: tenant id and permission name are required")
	}

	now := nowStamp()
	perm.CreatedAt = now
	perm.UpdatedAt = now

	item, err := attributevalue.MarshalMap(perm)
	if err != nil {
		return nil, fmt.Errorf("marshal permission: %w", err)
	}

	key := permissionKey(perm.TenantID, perm.PermissionName)
	if err := s.kv.PutIfAbsent(ctx, key, item); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return nil, &AlreadyExistsError{Kind: "permission", Key: key}
		}
		return nil, storageErr(s.logger, "permission create", key, err)
	}
	return &perm, nil
}

// GetByName retrieves a permission by name. Absence is (nil, nil).
func (s *PermissionStore) GetByName(ctx context.Context, tenantID, name string) (*Permission, error) {
	key := permissionKey(tenantID, name)
	item, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, storageErr(s.logger, "permission get", key, err)
	}
	if item == nil {
		return nil, nil
	}
	return unmarshalPermission(item, key)
}

// List returns one page of the tenant's permissions in name order.
func (s *PermissionStore) List(ctx context.Context, tenantID string, page kv.Page) ([]Permission, string, error) {
	key := kv.Key{PK: keys.TenantPK(tenantID), SK: keys.PermissionPrefix}
	result, err := s.kv.QueryPrefix(ctx, key.PK, key.SK, page)
	if err != nil {
		return nil, "", storageErr(s.logger, "permission list", key, err)
	}

	perms := make([]Permission, 0, len(result.Items))
	for _, item := range result.Items {
		perm, err := unmarshalPermission(item, key)
		if err != nil {
			return nil, "", err
		}
		perms = append(perms, *perm)
	}
	return perms, result.NextToken, nil
}

// Update applies the supplied fields and advances updated_at. Returns
// (false, nil) when the permission does not exist.
func (s *PermissionStore) Update(ctx context.Context, tenantID, name string, upd PermissionUpdate) (bool, error) {
	set := map[string]types.AttributeValue{
		"updated_at": &types.AttributeValueMemberS{Value: nowStamp()},
	}
	var remove []string
	applyString(set, &remove, "description", upd.Description)

	key := permissionKey(tenantID, name)
	if err := s.kv.UpdateIfPresent(ctx, key, set, remove); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return false, nil
		}
		return false, storageErr(s.logger, "permission update", key, err)
	}
	return true, nil
}

// Delete removes a permission. Returns (false, nil) when already absent.
func (s *PermissionStore) Delete(ctx context.Context, tenantID, name string) (bool, error) {
	key := permissionKey(tenantID, name)
	found, err := s.kv.DeleteIfPresent(ctx, key)
	if err != nil {
		return false, storageErr(s.logger, "permission delete", key, err)
	}
	return found, nil
}

func unmarshalPermission(item map[string]types.AttributeValue, key kv.Key) (*Permission, error) {
	var perm Permission
	if err := attributevalue.UnmarshalMap(item, &perm); err != nil {
		return nil, &InvalidRecordError{Kind: "permission", Key: key, Reason: err.Error()}
	}
	if perm.TenantID == "" || perm.PermissionName == "" {
		return nil, &InvalidRecordError{Kind: "permission", Key: key, Reason: "missing required fields"}
	}
	return &perm, nil
}
