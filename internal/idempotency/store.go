package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-engagement-orderflow/internal/aws"
)

// Store encapsulates merchant-reference claims in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to the references table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TableName is the references table this store writes to.
func (s *Store) TableName() string { return s.tableName }

// ClaimItem builds the transactional put that claims ref for orderID. The put carries
// attribute_not_exists(merchant_reference), so the surrounding transaction is cancelled when the
// reference is already taken.
func (s *Store) ClaimItem(ref, orderID string) (types.TransactWriteItem, error) {
	rec := ReferenceRecord{
		MerchantReference: ref,
		OrderID:           orderID,
		CreatedAt:         s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal reference record: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(merchant_reference)"),
		},
	}, nil
}

// Get retrieves the claim for ref. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, ref string) (*ReferenceRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"merchant_reference": &types.AttributeValueMemberS{Value: ref},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec ReferenceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
