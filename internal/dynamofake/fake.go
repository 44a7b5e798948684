// Package dynamofake is an in-memory stand-in for the DynamoDB client,
// covering the call shapes the kv provider issues. It backs the unit tests;
// the e2e suite runs against real tables.
package dynamofake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake implements the provider's DynamoAPI over an in-memory map.
// The zero value is not usable; call New.
type Fake struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// Error injection: when set, the corresponding call fails outright.
	GetErr      error
	PutErr      error
	DeleteErr   error
	UpdateErr   error
	QueryErr    error
	BatchErr    error
	TransactErr error

	// UnprocessedBatches makes the first n BatchWriteItem calls report
	// every requested key as unprocessed, to exercise retry paths.
	UnprocessedBatches int

	batchCalls int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{items: make(map[string]map[string]types.AttributeValue)}
}

const keySep = "\x00"

func getS(attrs map[string]types.AttributeValue, name string) string {
	if v, ok := attrs[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func storageKey(attrs map[string]types.AttributeValue) string {
	return getS(attrs, "pk") + keySep + getS(attrs, "sk")
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	dup := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		dup[k] = v
	}
	return dup
}

// Seed inserts an item directly, bypassing conditions.
func (f *Fake) Seed(item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[storageKey(item)] = copyItem(item)
}

// Remove drops an item directly, bypassing conditions.
func (f *Fake) Remove(pk, sk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, pk+keySep+sk)
}

// Has reports whether a record exists.
func (f *Fake) Has(pk, sk string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[pk+keySep+sk]
	return ok
}

// Item returns a copy of a stored record, or nil.
func (f *Fake) Item(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[pk+keySep+sk]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of stored records.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// BatchCalls returns how many BatchWriteItem calls were made.
func (f *Fake) BatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls
}

// checkCondition evaluates the two condition shapes the provider emits.
func checkCondition(cond *string, exists bool) bool {
	if cond == nil {
		return true
	}
	if strings.Contains(*cond, "attribute_not_exists") {
		return !exists
	}
	if strings.Contains(*cond, "attribute_exists") {
		return exists
	}
	return true
}

func condFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// GetItem implements DynamoAPI.
func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[storageKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// PutItem implements DynamoAPI.
func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := storageKey(in.Item)
	_, exists := f.items[key]
	if !checkCondition(in.ConditionExpression, exists) {
		return nil, condFailed()
	}
	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem implements DynamoAPI.
func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := storageKey(in.Key)
	_, exists := f.items[key]
	if !checkCondition(in.ConditionExpression, exists) {
		return nil, condFailed()
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// UpdateItem implements DynamoAPI.
func (f *Fake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := storageKey(in.Key)
	item, exists := f.items[key]
	if !checkCondition(in.ConditionExpression, exists) {
		return nil, condFailed()
	}
	if !exists {
		item = copyItem(in.Key)
		f.items[key] = item
	}
	applyUpdate(item, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

// applyUpdate interprets the "SET a = v, ... REMOVE x, ..." expressions the
// provider generates. It is not a general expression engine.
func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) {
	resolve := func(name string) string {
		if mapped, ok := names[name]; ok {
			return mapped
		}
		return name
	}

	var setPart, removePart string
	switch {
	case strings.HasPrefix(expr, "SET "):
		body := expr[len("SET "):]
		if idx := strings.Index(body, " REMOVE "); idx >= 0 {
			setPart = body[:idx]
			removePart = body[idx+len(" REMOVE "):]
		} else {
			setPart = body
		}
	case strings.HasPrefix(expr, "REMOVE "):
		removePart = expr[len("REMOVE "):]
	}

	if setPart != "" {
		for _, clause := range strings.Split(setPart, ",") {
			parts := strings.SplitN(strings.TrimSpace(clause), " = ", 2)
			if len(parts) != 2 {
				continue
			}
			if v, ok := values[parts[1]]; ok {
				item[resolve(parts[0])] = v
			}
		}
	}
	if removePart != "" {
		for _, name := range strings.Split(removePart, ",") {
			delete(item, resolve(strings.TrimSpace(name)))
		}
	}
}

// Query implements DynamoAPI for the provider's two query shapes: a primary
// partition query (pk equality, optional begins_with on sk) and the
// inverted-index query (sk equality, optional begins_with on pk).
func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	partAttr, rangeAttr := "pk", "sk"
	if in.IndexName != nil {
		partAttr, rangeAttr = "sk", "pk"
	}

	partValue := getS(in.ExpressionAttributeValues, ":"+partAttr)
	prefix := getS(in.ExpressionAttributeValues, ":prefix")

	var matches []map[string]types.AttributeValue
	for _, item := range f.items {
		if getS(item, partAttr) != partValue {
			continue
		}
		if prefix != "" && !strings.HasPrefix(getS(item, rangeAttr), prefix) {
			continue
		}
		matches = append(matches, copyItem(item))
	}
	sort.Slice(matches, func(i, j int) bool {
		return getS(matches[i], rangeAttr) < getS(matches[j], rangeAttr)
	})

	if len(in.ExclusiveStartKey) > 0 {
		after := getS(in.ExclusiveStartKey, rangeAttr)
		for len(matches) > 0 && getS(matches[0], rangeAttr) <= after {
			matches = matches[1:]
		}
	}

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(matches) {
		matches = matches[:*in.Limit]
		last := matches[len(matches)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: getS(last, "pk")},
			"sk": &types.AttributeValueMemberS{Value: getS(last, "sk")},
		}
	}
	out.Items = matches
	out.Count = int32(len(matches))
	return out, nil
}

// BatchWriteItem implements DynamoAPI for delete requests.
func (f *Fake) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if f.BatchErr != nil {
		return nil, f.BatchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls++
	if f.batchCalls <= f.UnprocessedBatches {
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}

	for _, requests := range in.RequestItems {
		for _, req := range requests {
			if req.DeleteRequest != nil {
				delete(f.items, storageKey(req.DeleteRequest.Key))
			}
			if req.PutRequest != nil {
				f.items[storageKey(req.PutRequest.Item)] = copyItem(req.PutRequest.Item)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// TransactWriteItems implements DynamoAPI: conditions are checked across
// all items first, then either everything applies or a cancellation error
// carries the per-item reasons.
func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if f.TransactErr != nil {
		return nil, f.TransactErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, item := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var cond *string
		var key string
		switch {
		case item.Put != nil:
			cond = item.Put.ConditionExpression
			key = storageKey(item.Put.Item)
		case item.Delete != nil:
			cond = item.Delete.ConditionExpression
			key = storageKey(item.Delete.Key)
		case item.Update != nil:
			cond = item.Update.ConditionExpression
			key = storageKey(item.Update.Key)
		default:
			continue
		}
		_, exists := f.items[key]
		if !checkCondition(cond, exists) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, item := range in.TransactItems {
		switch {
		case item.Put != nil:
			f.items[storageKey(item.Put.Item)] = copyItem(item.Put.Item)
		case item.Delete != nil:
			delete(f.items, storageKey(item.Delete.Key))
		case item.Update != nil:
			key := storageKey(item.Update.Key)
			stored, ok := f.items[key]
			if !ok {
				stored = copyItem(item.Update.Key)
				f.items[key] = stored
			}
			applyUpdate(stored, aws.ToString(item.Update.UpdateExpression), item.Update.ExpressionAttributeNames, item.Update.ExpressionAttributeValues)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
