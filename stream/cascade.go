// Package stream provides DynamoDB Streams handlers for cascading
// relationship cleanup.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
	"github.com/hakrNJN/user-management-service-sub003/rbac"
)

// Handler processes DynamoDB stream events for cascade cleanup: when an
// entity record is removed from the table, every assignment edge touching
// it is deleted. This takes the cleanup burden off the administrative
// caller, at the cost of the stream's propagation delay.
type Handler struct {
	relationships *rbac.RelationshipStore
	logger        *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(relationships *rbac.RelationshipStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relationships: relationships,
		logger:        logger,
	}
}

// HandleEntityRemove processes stream events and cascades relationship
// cleanup for removed entity records. Designed as an AWS Lambda handler.
func (h *Handler) HandleEntityRemove(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord cascades cleanup for a single stream record. Records that
// are not entity removals (inserts, updates, pointer records, edge records)
// are skipped.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	pk := getStringAttr(record.Change.Keys, "pk")
	sk := getStringAttr(record.Change.Keys, "sk")

	tenantID, ok := keys.TenantID(pk)
	if !ok {
		// Edge records carry their own cleanup; nothing cascades from them.
		return nil
	}

	ref, ok := entityRef(sk)
	if !ok {
		return nil
	}

	count, err := h.relationships.RemoveAllAssignmentsFor(ctx, tenantID, ref)
	if err != nil {
		return fmt.Errorf("cascade cleanup for %s: %w", sk, err)
	}

	h.logger.Info("cascade cleanup completed",
		"tenant", tenantID,
		"entity", sk,
		"edgesDeleted", count,
	)
	return nil
}

// entityRef maps an entity sort key to a relationship endpoint. Policies
// and the uniqueness pointer records hold no edges, so they do not cascade.
func entityRef(sk string) (rbac.Ref, bool) {
	switch {
	case strings.HasPrefix(sk, keys.TenantPrefix):
		// Edge record endpoint, not an entity sort key.
		return rbac.Ref{}, false
	case strings.HasPrefix(sk, keys.RolePrefix):
		name, _ := keys.Name(keys.RolePrefix, sk)
		return rbac.RoleRef(name), true
	case strings.HasPrefix(sk, keys.PermissionPrefix):
		name, _ := keys.Name(keys.PermissionPrefix, sk)
		return rbac.PermissionRef(name), true
	case strings.HasPrefix(sk, keys.UserEmailPrefix):
		return rbac.Ref{}, false
	case strings.HasPrefix(sk, keys.UserPrefix):
		name, _ := keys.Name(keys.UserPrefix, sk)
		return rbac.UserRef(name), true
	case strings.HasPrefix(sk, keys.GroupPrefix):
		name, _ := keys.Name(keys.GroupPrefix, sk)
		return rbac.GroupRef(name), true
	}
	return rbac.Ref{}, false
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		return v.String()
	}
	return ""
}
