package kv

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TransactPutIfAbsent builds a transactional put guarded by key absence.
func (p *Provider) TransactPutIfAbsent(key Key, item map[string]types.AttributeValue) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(p.config.TableName),
			Item:                withKey(key, item),
			ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
		},
	}
}

// TransactDelete builds an unconditional transactional delete.
func (p *Provider) TransactDelete(key Key) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(p.config.TableName),
			Key:       key.attrs(),
		},
	}
}

// TransactDeleteIfPresent builds a transactional delete guarded by existence.
func (p *Provider) TransactDeleteIfPresent(key Key) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(p.config.TableName),
			Key:                 key.attrs(),
			ConditionExpression: aws.String("attribute_exists(pk) AND attribute_exists(sk)"),
		},
	}
}

// TransactUpdateIfPresent builds a transactional targeted update guarded by
// existence, with the same set/remove semantics as UpdateIfPresent.
func (p *Provider) TransactUpdateIfPresent(key Key, set map[string]types.AttributeValue, remove []string) types.TransactWriteItem {
	expr, names, values := buildUpdateExpr(set, remove)
	update := &types.Update{
		TableName:                aws.String(p.config.TableName),
		Key:                      key.attrs(),
		UpdateExpression:         aws.String(expr),
		ConditionExpression:      aws.String("attribute_exists(pk) AND attribute_exists(sk)"),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		update.ExpressionAttributeValues = values
	}
	return types.TransactWriteItem{Update: update}
}
