package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// DefaultDefinitionLanguage is assumed when a policy is created without one.
const DefaultDefinitionLanguage = "Rego"

// PolicyStore provides tenant-scoped CRUD over versioned policies.
//
// Each policy is stored under its uuid, with a pointer record under the
// policy name written in the same transaction. The pointer makes the name
// unique per tenant and turns lookup-by-name into two point reads.
type PolicyStore struct {
	kv     *kv.Provider
	logger *slog.Logger
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(provider *kv.Provider, logger *slog.Logger) *PolicyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyStore{kv: provider, logger: logger}
}

func policyKey(tenantID, id string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.PolicyPrefix, id)}
}

func policyNameKey(tenantID, name string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.PolicyNamePrefix, name)}
}

// Create writes a new policy and its name pointer transactionally. A name
// collision within the tenant returns AlreadyExistsError. The assigned id
// is returned on the policy.
func (s *PolicyStore) Create(ctx context.Context, policy Policy) (*Policy, error) {
	if policy.TenantID == "" || policy.PolicyName == "" || policy.Definition == "" {
		return nil, fmt.Errorf("rbac: tenant id, policy name and definition are required")
	}
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if policy.DefinitionLanguage == "" {
		policy.DefinitionLanguage = DefaultDefinitionLanguage
	}
	if policy.Version == "" {
		policy.Version = "1"
	}

	now := nowStamp()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	item, err := attributevalue.MarshalMap(policy)
	if err != nil {
		return nil, fmt.Errorf("marshal policy: %w", err)
	}

	key := policyKey(policy.TenantID, policy.ID)
	nameKey := policyNameKey(policy.TenantID, policy.PolicyName)
	pointer := map[string]types.AttributeValue{
		"tenant_id":   &types.AttributeValueMemberS{Value: policy.TenantID},
		"policy_id":   &types.AttributeValueMemberS{Value: policy.ID},
		"policy_name": &types.AttributeValueMemberS{Value: policy.PolicyName},
	}

	err = s.kv.TransactWrite(ctx, []types.TransactWriteItem{
		s.kv.TransactPutIfAbsent(key, item),
		s.kv.TransactPutIfAbsent(nameKey, pointer),
	})
	if err != nil {
		switch conditionalCheckIndex(err) {
		case 0:
			return nil, &AlreadyExistsError{Kind: "policy", Key: key}
		case 1:
			return nil, &AlreadyExistsError{Kind: "policy name", Key: nameKey}
		}
		return nil, storageErr(s.logger, "policy create", key, err)
	}
	return &policy, nil
}

// GetByID retrieves a policy by its id. Absence is (nil, nil).
func (s *PolicyStore) GetByID(ctx context.Context, tenantID, id string) (*Policy, error) {
	key := policyKey(tenantID, id)
	item, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, storageErr(s.logger, "policy get", key, err)
	}
	if item == nil {
		return nil, nil
	}
	return unmarshalPolicy(item, key)
}

// GetByName resolves the name pointer and retrieves the policy. Absence of
// the name is (nil, nil); a pointer without its policy record is corruption.
func (s *PolicyStore) GetByName(ctx context.Context, tenantID, name string) (*Policy, error) {
	nameKey := policyNameKey(tenantID, name)
	item, err := s.kv.Get(ctx, nameKey)
	if err != nil {
		return nil, storageErr(s.logger, "policy name lookup", nameKey, err)
	}
	if item == nil {
		return nil, nil
	}

	idAttr, ok := item["policy_id"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return nil, &InvalidRecordError{Kind: "policy name pointer", Key: nameKey, Reason: "missing policy_id"}
	}

	policy, err := s.GetByID(ctx, tenantID, idAttr.Value)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, &InvalidRecordError{Kind: "policy name pointer", Key: nameKey, Reason: "pointer references missing policy " + idAttr.Value}
	}
	return policy, nil
}

// List returns one page of the tenant's policies in id order.
func (s *PolicyStore) List(ctx context.Context, tenantID string, page kv.Page) ([]Policy, string, error) {
	key := kv.Key{PK: keys.TenantPK(tenantID), SK: keys.PolicyPrefix}
	result, err := s.kv.QueryPrefix(ctx, key.PK, key.SK, page)
	if err != nil {
		return nil, "", storageErr(s.logger, "policy list", key, err)
	}

	policies := make([]Policy, 0, len(result.Items))
	for _, item := range result.Items {
		policy, err := unmarshalPolicy(item, key)
		if err != nil {
			return nil, "", err
		}
		policies = append(policies, *policy)
	}
	return policies, result.NextToken, nil
}

// Update applies the supplied fields and advances updated_at. The policy
// name is immutable. Returns (false, nil) when the policy does not exist.
func (s *PolicyStore) Update(ctx context.Context, tenantID, id string, upd PolicyUpdate) (bool, error) {
	set := map[string]types.AttributeValue{
		"updated_at": &types.AttributeValueMemberS{Value: nowStamp()},
	}
	var remove []string
	applyString(set, &remove, "definition", upd.Definition)
	applyString(set, &remove, "definition_language", upd.DefinitionLanguage)
	applyString(set, &remove, "version", upd.Version)
	applyString(set, &remove, "description", upd.Description)
	if upd.IsActive != nil {
		set["is_active"] = &types.AttributeValueMemberBOOL{Value: *upd.IsActive}
	}
	if upd.Metadata != nil {
		if len(upd.Metadata) == 0 {
			remove = append(remove, "metadata")
		} else {
			meta, err := attributevalue.MarshalMap(upd.Metadata)
			if err != nil {
				return false, fmt.Errorf("marshal policy metadata: %w", err)
			}
			set["metadata"] = &types.AttributeValueMemberM{Value: meta}
		}
	}

	key := policyKey(tenantID, id)
	if err := s.kv.UpdateIfPresent(ctx, key, set, remove); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return false, nil
		}
		return false, storageErr(s.logger, "policy update", key, err)
	}
	return true, nil
}

// Delete removes a policy and its name pointer transactionally. Returns
// (false, nil) when the policy was already absent.
func (s *PolicyStore) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	// The pointer key is derived from the stored name, so read first.
	policy, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	if policy == nil {
		return false, nil
	}

	key := policyKey(tenantID, id)
	err = s.kv.TransactWrite(ctx, []types.TransactWriteItem{
		s.kv.TransactDeleteIfPresent(key),
		s.kv.TransactDelete(policyNameKey(tenantID, policy.PolicyName)),
	})
	if err != nil {
		// Lost a race with a concurrent delete.
		if conditionalCheckIndex(err) == 0 {
			return false, nil
		}
		return false, storageErr(s.logger, "policy delete", key, err)
	}
	return true, nil
}

func unmarshalPolicy(item map[string]types.AttributeValue, key kv.Key) (*Policy, error) {
	var policy Policy
	if err := attributevalue.UnmarshalMap(item, &policy); err != nil {
		return nil, &InvalidRecordError{Kind: "policy", Key: key, Reason: err.Error()}
	}
	if policy.TenantID == "" || policy.ID == "" || policy.PolicyName == "" {
		return nil, &InvalidRecordError{Kind: "policy", Key: key, Reason: "missing required fields"}
	}
	return &policy, nil
}
