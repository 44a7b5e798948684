package rbac_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hakrNJN/user-management-service-sub003/internal/dynamofake"
	"github.com/hakrNJN/user-management-service-sub003/kv"
)

func newTestProvider(t *testing.T) (*kv.Provider, *dynamofake.Fake) {
	t.Helper()
	fake := dynamofake.New()
	provider := kv.New(fake, kv.Config{TableName: "rbac_store_test", IndexName: "sk-pk-index"})
	return provider, fake
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getString(t *testing.T, item map[string]types.AttributeValue, attr string) string {
	t.Helper()
	if item == nil {
		t.Fatalf("nil item while reading attribute %q", attr)
	}
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("missing string attribute %q in %v", attr, item)
	}
	return v.Value
}
