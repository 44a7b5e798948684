// Package kv provides the DynamoDB key-value layer for the RBAC store.
package kv

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the Provider uses.
// *dynamodb.Client satisfies it; tests substitute an in-memory fake.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ErrConditionFailed is returned by conditional writes whose precondition
// did not hold. Callers map it onto their own taxonomy.
var ErrConditionFailed = errors.New("kv: conditional check failed")

// MaxBatchKeys is the DynamoDB limit on keys per BatchWriteItem call.
const MaxBatchKeys = 25

// Key is a composite primary key in the RBAC table.
type Key struct {
	PK string
	SK string
}

func (k Key) attrs() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: k.PK},
		"sk": &types.AttributeValueMemberS{Value: k.SK},
	}
}

// Provider exposes the store primitives over a shared DynamoDB session.
type Provider struct {
	client DynamoAPI
	config Config
}

// New creates a new Provider instance.
func New(client DynamoAPI, config Config) *Provider {
	config.validate()
	return &Provider{
		client: client,
		config: config,
	}
}

// NewClient builds a DynamoDB client from the default AWS credential chain,
// honoring the Region and Endpoint overrides in cfg.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Table returns the configured table name.
func (p *Provider) Table() string { return p.config.TableName }

// opCtx applies the per-call timeout bound when one is configured.
func (p *Provider) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.RequestTimeout)
}

// Get retrieves a raw item by key. Absence is (nil, nil), not an error.
func (p *Provider) Get(ctx context.Context, key Key) (map[string]types.AttributeValue, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	result, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.config.TableName),
		Key:       key.attrs(),
	})
	if err != nil {
		return nil, err
	}
	return result.Item, nil
}

// Put writes an item unconditionally (upsert semantics).
func (p *Provider) Put(ctx context.Context, key Key, item map[string]types.AttributeValue) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.config.TableName),
		Item:      withKey(key, item),
	})
	return err
}

// PutIfAbsent writes an item only if the key does not exist yet.
// Returns ErrConditionFailed when it does.
func (p *Provider) PutIfAbsent(ctx context.Context, key Key, item map[string]types.AttributeValue) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(p.config.TableName),
		Item:                withKey(key, item),
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	})
	return mapConditionErr(err)
}

// Delete removes an item unconditionally. Deleting an absent key is a no-op.
func (p *Provider) Delete(ctx context.Context, key Key) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.config.TableName),
		Key:       key.attrs(),
	})
	return err
}

// DeleteIfPresent removes an item only if it exists.
// The bool reports whether a record was actually deleted.
func (p *Provider) DeleteIfPresent(ctx context.Context, key Key) (bool, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(p.config.TableName),
		Key:                 key.attrs(),
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_exists(sk)"),
	})
	if err := mapConditionErr(err); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateIfPresent applies a targeted update to an existing item: set maps
// attribute names to new values, remove lists attributes to drop. Returns
// ErrConditionFailed when the key does not exist.
func (p *Provider) UpdateIfPresent(ctx context.Context, key Key, set map[string]types.AttributeValue, remove []string) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	expr, names, values := buildUpdateExpr(set, remove)
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(p.config.TableName),
		Key:                      key.attrs(),
		UpdateExpression:         aws.String(expr),
		ConditionExpression:      aws.String("attribute_exists(pk) AND attribute_exists(sk)"),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	_, err := p.client.UpdateItem(ctx, input)
	return mapConditionErr(err)
}

// QueryPage is one page of a range query.
type QueryPage struct {
	Items []map[string]types.AttributeValue

	// NextToken is the opaque continuation token for the following page.
	// Empty means end of results.
	NextToken string
}

// QueryPrefix runs a range query over one partition, optionally restricted
// to sort keys under prefix, honoring the page options.
func (p *Provider) QueryPrefix(ctx context.Context, pk, skPrefix string, page Page) (QueryPage, error) {
	input, err := p.applyPage(p.prefixQueryInput(pk, skPrefix), page)
	if err != nil {
		return QueryPage{}, err
	}
	return p.queryPage(ctx, input)
}

// QueryReverse runs the same range query through the inverted secondary
// index: the table's sort key acts as the query partition key. Results may
// lag primary-table writes; see the relationship store contract.
func (p *Provider) QueryReverse(ctx context.Context, sk, pkPrefix string, page Page) (QueryPage, error) {
	input, err := p.applyPage(p.reverseQueryInput(sk, pkPrefix), page)
	if err != nil {
		return QueryPage{}, err
	}
	return p.queryPage(ctx, input)
}

func (p *Provider) queryPage(ctx context.Context, input *dynamodb.QueryInput) (QueryPage, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	result, err := p.client.Query(ctx, input)
	if err != nil {
		return QueryPage{}, err
	}

	page := QueryPage{Items: result.Items}
	if len(result.LastEvaluatedKey) > 0 {
		page.NextToken, err = encodeToken(result.LastEvaluatedKey)
		if err != nil {
			return QueryPage{}, err
		}
	}
	return page, nil
}

// QueryPrefixAll exhausts a prefix query, following continuation internally.
func (p *Provider) QueryPrefixAll(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	return p.queryAll(ctx, p.prefixQueryInput(pk, skPrefix))
}

// QueryReverseAll exhausts a reverse-index query.
func (p *Provider) QueryReverseAll(ctx context.Context, sk, pkPrefix string) ([]map[string]types.AttributeValue, error) {
	return p.queryAll(ctx, p.reverseQueryInput(sk, pkPrefix))
}

func (p *Provider) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	paginator := dynamodb.NewQueryPaginator(p.client, input)
	for paginator.HasMorePages() {
		pageCtx, cancel := p.opCtx(ctx)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}

	return items, nil
}

func (p *Provider) prefixQueryInput(pk, skPrefix string) *dynamodb.QueryInput {
	keyCond := "pk = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skPrefix != "" {
		keyCond += " AND begins_with(sk, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	return &dynamodb.QueryInput{
		TableName:                 aws.String(p.config.TableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
	}
}

func (p *Provider) reverseQueryInput(sk, pkPrefix string) *dynamodb.QueryInput {
	keyCond := "sk = :sk"
	values := map[string]types.AttributeValue{
		":sk": &types.AttributeValueMemberS{Value: sk},
	}
	if pkPrefix != "" {
		keyCond += " AND begins_with(pk, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: pkPrefix}
	}

	return &dynamodb.QueryInput{
		TableName:                 aws.String(p.config.TableName),
		IndexName:                 aws.String(p.config.IndexName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
	}
}

func (p *Provider) applyPage(input *dynamodb.QueryInput, page Page) (*dynamodb.QueryInput, error) {
	if page.Limit > 0 {
		input.Limit = aws.Int32(page.Limit)
	}
	if page.Token != "" {
		start, err := decodeToken(page.Token)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = start
	}
	return input, nil
}

// BatchDelete submits one bulk delete of up to MaxBatchKeys keys and returns
// the subset the backend reported as unprocessed. It does not retry; that
// policy belongs to the caller.
func (p *Provider) BatchDelete(ctx context.Context, keys []Key) ([]Key, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	requests := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: k.attrs()},
		})
	}

	result, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			p.config.TableName: requests,
		},
	})
	if err != nil {
		return nil, err
	}

	var unprocessed []Key
	for _, req := range result.UnprocessedItems[p.config.TableName] {
		if req.DeleteRequest == nil {
			continue
		}
		unprocessed = append(unprocessed, keyFromAttrs(req.DeleteRequest.Key))
	}
	return unprocessed, nil
}

// TransactWrite executes a multi-item transactional write. Errors are
// returned raw so callers can map cancellation reasons.
func (p *Provider) TransactWrite(ctx context.Context, items []types.TransactWriteItem) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	_, err := p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return err
}

// withKey merges the composite key attributes into an item map.
func withKey(key Key, item map[string]types.AttributeValue) map[string]types.AttributeValue {
	merged := make(map[string]types.AttributeValue, len(item)+2)
	for k, v := range item {
		merged[k] = v
	}
	merged["pk"] = &types.AttributeValueMemberS{Value: key.PK}
	merged["sk"] = &types.AttributeValueMemberS{Value: key.SK}
	return merged
}

func keyFromAttrs(attrs map[string]types.AttributeValue) Key {
	var k Key
	if v, ok := attrs["pk"].(*types.AttributeValueMemberS); ok {
		k.PK = v.Value
	}
	if v, ok := attrs["sk"].(*types.AttributeValueMemberS); ok {
		k.SK = v.Value
	}
	return k
}

func mapConditionErr(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrConditionFailed
	}
	return err
}
