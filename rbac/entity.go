package rbac

import (
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// nowStamp returns the RFC 3339 timestamp used for created_at/updated_at.
func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// applyString folds an optional string field into an update: nil is "leave
// alone", pointer-to-empty is "clear the attribute", anything else sets it.
func applyString(set map[string]types.AttributeValue, remove *[]string, attr string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*remove = append(*remove, attr)
		return
	}
	set[attr] = &types.AttributeValueMemberS{Value: *v}
}

// storageErr logs a backend fault with its key context and wraps it.
func storageErr(logger *slog.Logger, op string, key kv.Key, err error) error {
	logger.Error("store operation failed",
		"op", op,
		"pk", key.PK,
		"sk", key.SK,
		"error", err,
	)
	return &StorageError{Op: op, Key: key, Err: err}
}

// conditionalCheckIndex inspects a transaction error and returns the index
// of the item whose condition failed, or -1 when the error is something
// else entirely.
func conditionalCheckIndex(err error) int {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return -1
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}
