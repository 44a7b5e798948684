package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// Batch delete retry policy for cascading cleanup. The budget is fixed:
// exceeding it is a terminal CleanupDeleteError, never an infinite retry.
const (
	batchRetryAttempts = 3
	batchRetryDelay    = 100 * time.Millisecond
)

// RelationshipStore persists the many-to-many edges between RBAC entities
// as adjacency records and cascades their cleanup.
type RelationshipStore struct {
	kv       *kv.Provider
	registry *Registry
	logger   *slog.Logger
}

// NewRelationshipStore creates a new RelationshipStore. A nil registry
// falls back to DefaultRegistry.
func NewRelationshipStore(provider *kv.Provider, registry *Registry, logger *slog.Logger) *RelationshipStore {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationshipStore{kv: provider, registry: registry, logger: logger}
}

func edgeKey(tenantID string, ref Ref) string {
	return keys.Edge(tenantID, ref.Type.Prefix(), ref.Name)
}

// Assign records an edge from owner to target. It is an idempotent upsert:
// assigning an existing edge refreshes assigned_at and never errors.
func (s *RelationshipStore) Assign(ctx context.Context, tenantID string, owner, target Ref, kind RelationKind) error {
	rel, ok := s.registry.Kind(kind)
	if !ok {
		return fmt.Errorf("rbac: unknown relation kind %q", kind)
	}
	if owner.Type != rel.OwnerType || target.Type != rel.TargetType {
		return fmt.Errorf("rbac: relation %s expects %s->%s, got %s->%s",
			kind, rel.OwnerType, rel.TargetType, owner.Type, target.Type)
	}
	if tenantID == "" || owner.Name == "" || target.Name == "" {
		return fmt.Errorf("rbac: tenant id and endpoint names are required")
	}

	key := kv.Key{PK: edgeKey(tenantID, owner), SK: edgeKey(tenantID, target)}
	item := map[string]types.AttributeValue{
		"tenant_id":     &types.AttributeValueMemberS{Value: tenantID},
		"relation_kind": &types.AttributeValueMemberS{Value: string(kind)},
		"assigned_at":   &types.AttributeValueMemberS{Value: nowStamp()},
	}
	if err := s.kv.Put(ctx, key, item); err != nil {
		return storageErr(s.logger, "assignment create", key, err)
	}
	return nil
}

// Remove deletes an edge. Removing an absent edge is a no-op, not an error.
func (s *RelationshipStore) Remove(ctx context.Context, tenantID string, owner, target Ref) error {
	key := kv.Key{PK: edgeKey(tenantID, owner), SK: edgeKey(tenantID, target)}
	if err := s.kv.Delete(ctx, key); err != nil {
		return storageErr(s.logger, "assignment remove", key, err)
	}
	return nil
}

// QueryForward returns the names of all targets of the given type that the
// owner has edges to. An empty result is valid.
func (s *RelationshipStore) QueryForward(ctx context.Context, tenantID string, owner Ref, targetType EntityType) ([]string, error) {
	pk := edgeKey(tenantID, owner)
	prefix := keys.EdgePrefix(tenantID, targetType.Prefix())

	items, err := s.kv.QueryPrefixAll(ctx, pk, prefix)
	if err != nil {
		return nil, storageErr(s.logger, "assignment query forward", kv.Key{PK: pk, SK: prefix}, err)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		sk, ok := item["sk"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if name, ok := keys.EdgeName(tenantID, targetType.Prefix(), sk.Value); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// QueryReverse returns the names of all owners of the given type that have
// edges to the target. It reads through the inverted index, which may lag
// primary-table writes; callers needing read-your-writes must re-derive
// from QueryForward.
func (s *RelationshipStore) QueryReverse(ctx context.Context, tenantID string, target Ref, ownerType EntityType) ([]string, error) {
	sk := edgeKey(tenantID, target)
	prefix := keys.EdgePrefix(tenantID, ownerType.Prefix())

	items, err := s.kv.QueryReverseAll(ctx, sk, prefix)
	if err != nil {
		return nil, storageErr(s.logger, "assignment query reverse", kv.Key{PK: prefix, SK: sk}, err)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		pk, ok := item["pk"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if name, ok := keys.EdgeName(tenantID, ownerType.Prefix(), pk.Value); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// RemoveAllAssignmentsFor deletes every edge touching the entity, in both
// directions, across every relation kind the registry declares for its
// type. It returns the number of edge records deleted; zero is a valid
// outcome.
//
// The operation is at-least-once, not atomic: enumeration and deletion are
// separate round trips, and an edge assigned concurrently in between can
// survive the cleanup. Enumeration failures abort before any delete
// (CleanupQueryError); delete failures after the retry budget surface as
// CleanupDeleteError with some edges possibly already gone.
func (s *RelationshipStore) RemoveAllAssignmentsFor(ctx context.Context, tenantID string, entity Ref) (int, error) {
	entityKey := edgeKey(tenantID, entity)

	var batch []kv.Key
	seen := make(map[kv.Key]struct{})
	add := func(k kv.Key) {
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		batch = append(batch, k)
	}

	// Entity as owner: one forward query per relation kind it can own.
	for _, rel := range s.registry.OwnedBy(entity.Type) {
		prefix := keys.EdgePrefix(tenantID, rel.TargetType.Prefix())
		items, err := s.kv.QueryPrefixAll(ctx, entityKey, prefix)
		if err != nil {
			return 0, &CleanupQueryError{EntityKey: entityKey, Err: err}
		}
		for _, item := range items {
			if sk, ok := item["sk"].(*types.AttributeValueMemberS); ok {
				add(kv.Key{PK: entityKey, SK: sk.Value})
			}
		}
	}

	// Entity as target: one reverse-index query per relation kind that can
	// reference it.
	for _, rel := range s.registry.Targeting(entity.Type) {
		prefix := keys.EdgePrefix(tenantID, rel.OwnerType.Prefix())
		items, err := s.kv.QueryReverseAll(ctx, entityKey, prefix)
		if err != nil {
			return 0, &CleanupQueryError{EntityKey: entityKey, Err: err}
		}
		for _, item := range items {
			if pk, ok := item["pk"].(*types.AttributeValueMemberS); ok {
				add(kv.Key{PK: pk.Value, SK: entityKey})
			}
		}
	}

	if len(batch) == 0 {
		return 0, nil
	}

	s.logger.Info("cascading assignment cleanup",
		"entity", entityKey,
		"edges", len(batch),
	)
	return s.deleteBatch(ctx, entityKey, batch)
}

// deleteBatch bulk-deletes keys in backend-sized chunks, then retries only
// the unprocessed subset with a bounded budget and inter-attempt delay.
func (s *RelationshipStore) deleteBatch(ctx context.Context, entityKey string, batch []kv.Key) (int, error) {
	total := len(batch)
	pending := batch

	for attempt := 0; attempt <= batchRetryAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying unprocessed cleanup deletes",
				"entity", entityKey,
				"remaining", len(pending),
				"attempt", attempt,
			)
			if err := sleepCtx(ctx, batchRetryDelay<<(attempt-1)); err != nil {
				return total - len(pending), &CleanupDeleteError{EntityKey: entityKey, Remaining: len(pending), Err: err}
			}
		}

		var unprocessed []kv.Key
		for start := 0; start < len(pending); start += kv.MaxBatchKeys {
			end := min(start+kv.MaxBatchKeys, len(pending))
			left, err := s.kv.BatchDelete(ctx, pending[start:end])
			if err != nil {
				remaining := len(unprocessed) + len(pending) - start
				return total - remaining, &CleanupDeleteError{EntityKey: entityKey, Remaining: remaining, Err: err}
			}
			unprocessed = append(unprocessed, left...)
		}

		pending = unprocessed
		if len(pending) == 0 {
			return total, nil
		}
	}

	return total - len(pending), &CleanupDeleteError{EntityKey: entityKey, Remaining: len(pending)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
