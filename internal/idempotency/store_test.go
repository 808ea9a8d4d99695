package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock for GetItem used in unit tests.
type simpleMock struct {
	table    map[string]map[string]types.AttributeValue
	getCalls int
	getErr   error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{table: map[string]map[string]types.AttributeValue{}}
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	k := params.Key["merchant_reference"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not used")
}

func TestClaimItem_IsConditionalPut(t *testing.T) {
	s := NewStore(newSimpleMock(), "references")

	item, err := s.ClaimItem("m1", "order-1")
	if err != nil {
		t.Fatalf("ClaimItem error: %v", err)
	}
	if item.Put == nil {
		t.Fatalf("expected a put")
	}
	if *item.Put.TableName != "references" {
		t.Fatalf("table mismatch: %s", *item.Put.TableName)
	}
	if *item.Put.ConditionExpression != "attribute_not_exists(merchant_reference)" {
		t.Fatalf("unexpected condition: %s", *item.Put.ConditionExpression)
	}

	var rec ReferenceRecord
	if err := attributevalue.UnmarshalMap(item.Put.Item, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.MerchantReference != "m1" || rec.OrderID != "order-1" {
		t.Fatalf("record mismatch: %+v", rec)
	}
}

func TestGet_FoundAndMissing(t *testing.T) {
	mock := newSimpleMock()
	item, _ := attributevalue.MarshalMap(ReferenceRecord{
		MerchantReference: "m1",
		OrderID:           "order-1",
		CreatedAt:         time.Now().Round(time.Second),
	})
	mock.table["m1"] = item
	s := NewStore(mock, "references")

	rec, err := s.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.OrderID != "order-1" {
		t.Fatalf("expected order-1, got %+v", rec)
	}

	rec, err = s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestGet_WrapsError(t *testing.T) {
	mock := newSimpleMock()
	mock.getErr = errors.New("throttled")
	s := NewStore(mock, "references")

	if _, err := s.Get(context.Background(), "m1"); !errors.Is(err, mock.getErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
