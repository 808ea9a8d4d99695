package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-engagement-orderflow/internal/aws"
	"github.com/imrishuroy/go-engagement-orderflow/internal/idempotency"
)

// DynamoStore keeps orders in one table and merchant-reference claims in another.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	refs      *idempotency.Store
	nowFunc   func() time.Time
}

// NewDynamoStore creates a DynamoStore over the orders and references tables.
func NewDynamoStore(client aws.DynamoDBAPI, ordersTable, referencesTable string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: ordersTable,
		refs:      idempotency.NewStore(client, referencesTable),
		nowFunc:   time.Now,
	}
}

// Create atomically writes the reference claim and the order document. A cancelled transaction
// means the reference is taken; the stored order is then returned with created=false.
func (s *DynamoStore) Create(ctx context.Context, o Order) (Order, bool, error) {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	claim, err := s.refs.ClaimItem(o.MerchantReference, o.OrderID)
	if err != nil {
		return Order{}, false, err
	}
	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return Order{}, false, fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			claim,
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err == nil {
		return o, true, nil
	}

	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return Order{}, false, fmt.Errorf("transact write: %w", err)
	}
	existing, getErr := s.GetByReference(ctx, o.MerchantReference)
	if getErr != nil {
		return Order{}, false, fmt.Errorf("transaction canceled (likely reference exists): %w", errors.Join(err, getErr))
	}
	return *existing, false, nil
}

// Get fetches an order by order_id with a strongly consistent read.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByReference resolves the reference claim, then the order.
func (s *DynamoStore) GetByReference(ctx context.Context, merchantReference string) (*Order, error) {
	rec, err := s.refs.Get(ctx, merchantReference)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return s.Get(ctx, rec.OrderID)
}

// List scans the orders table with a server-side filter and re-applies f locally.
// TODO: query a status/user GSI instead of scanning once order volume warrants it.
func (s *DynamoStore) List(ctx context.Context, f ListFilter) ([]Order, error) {
	input := &dyn.ScanInput{TableName: &s.tableName}
	if expr, names, values := scanFilter(f); expr != "" {
		input.FilterExpression = &expr
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var items []Order
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		for _, raw := range out.Items {
			var o Order
			if err := attributevalue.UnmarshalMap(raw, &o); err != nil {
				return nil, fmt.Errorf("unmarshal order: %w", err)
			}
			if f.match(&o) {
				items = append(items, o)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return sortAndLimit(items, f.Limit), nil
}

// Update issues a single conditional UpdateItem. Returns ErrStatusMismatch when the condition
// fails, including when the order does not exist.
func (s *DynamoStore) Update(ctx context.Context, orderID string, cond Condition, p Patch) (*Order, error) {
	input, err := s.buildUpdate(orderID, cond, p)
	if err != nil {
		return nil, err
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailure(err) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal updated order: %w", err)
	}
	return &o, nil
}

type updateBuilder struct {
	set    []string
	remove []string
	cond   []string
	names  map[string]string
	values map[string]types.AttributeValue
	err    error
}

func (b *updateBuilder) setValue(attr string, v interface{}) {
	if b.err != nil {
		return
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("marshal %s: %w", attr, err)
		return
	}
	placeholder := ":" + attr
	b.values[placeholder] = av
	b.set = append(b.set, fmt.Sprintf("%s = %s", attr, placeholder))
}

func (b *updateBuilder) increment(attr string) {
	b.values[":zero"] = &types.AttributeValueMemberN{Value: "0"}
	b.values[":one"] = &types.AttributeValueMemberN{Value: "1"}
	b.set = append(b.set, fmt.Sprintf("%s = if_not_exists(%s, :zero) + :one", attr, attr))
}

func (s *DynamoStore) buildUpdate(orderID string, cond Condition, p Patch) (*dyn.UpdateItemInput, error) {
	b := &updateBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		cond:   []string{"attribute_exists(order_id)"},
	}

	if p.Status != nil {
		b.names["#s"] = "status"
		b.values[":new"] = &types.AttributeValueMemberS{Value: string(*p.Status)}
		b.set = append(b.set, "#s = :new")
	}
	if p.PaymentStatus != nil {
		b.setValue("payment_status", *p.PaymentStatus)
	}
	if p.GatewayTrackingID != nil {
		b.setValue("gateway_tracking_id", *p.GatewayTrackingID)
	}
	if p.RedirectURL != nil {
		b.setValue("redirect_url", *p.RedirectURL)
	}
	if p.SupplierServiceID != nil {
		b.setValue("supplier_service_id", *p.SupplierServiceID)
	}
	if p.SupplierOrderID != nil {
		b.setValue("supplier_order_id", *p.SupplierOrderID)
		cond.SupplierOrderUnset = true
	}
	if p.SupplierStatus != nil {
		b.setValue("supplier_status", *p.SupplierStatus)
	}
	if p.SupplierRemains != nil {
		b.setValue("supplier_remains", *p.SupplierRemains)
	}
	if p.SupplierCharge != nil {
		b.setValue("supplier_charge", *p.SupplierCharge)
	}
	if p.SupplierStartCount != nil {
		b.setValue("supplier_start_count", *p.SupplierStartCount)
	}
	if p.LastReconciledAt != nil {
		b.setValue("last_reconciled_at", p.LastReconciledAt.UTC())
	}
	if p.ErrorMessage != nil {
		b.setValue("error_message", *p.ErrorMessage)
	}
	if p.Claim != nil {
		if *p.Claim == "" {
			b.remove = append(b.remove, "submission_claim", "submission_claimed_at")
		} else {
			b.setValue("submission_claim", *p.Claim)
			if p.ClaimedAt != nil {
				b.setValue("submission_claimed_at", p.ClaimedAt.UTC())
			}
		}
	}
	if p.IncRegistrationAttempts {
		b.increment("registration_attempts")
	}
	if p.IncSupplierAttempts {
		b.increment("supplier_attempts")
	}
	b.setValue("updated_at", s.nowFunc().UTC())
	if b.err != nil {
		return nil, b.err
	}

	if len(cond.Statuses) > 0 {
		b.names["#s"] = "status"
		placeholders := make([]string, 0, len(cond.Statuses))
		for i, st := range cond.Statuses {
			ph := fmt.Sprintf(":expected%d", i)
			b.values[ph] = &types.AttributeValueMemberS{Value: string(st)}
			placeholders = append(placeholders, ph)
		}
		b.cond = append(b.cond, fmt.Sprintf("#s IN (%s)", strings.Join(placeholders, ", ")))
	}
	if cond.SupplierOrderUnset {
		b.cond = append(b.cond, "attribute_not_exists(supplier_order_id)")
	}
	if cond.NoClaim {
		b.cond = append(b.cond, "attribute_not_exists(submission_claim)")
	}
	if cond.ClaimIs != "" {
		b.values[":claim_is"] = &types.AttributeValueMemberS{Value: cond.ClaimIs}
		b.cond = append(b.cond, "submission_claim = :claim_is")
	}
	if cond.TrackingUnset {
		b.cond = append(b.cond, "attribute_not_exists(gateway_tracking_id)")
	}

	if len(b.names) == 0 {
		b.names = nil
	}

	expr := "SET " + strings.Join(b.set, ", ")
	if len(b.remove) > 0 {
		expr += " REMOVE " + strings.Join(b.remove, ", ")
	}

	return &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString(strings.Join(b.cond, " AND ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
		ReturnValues:              types.ReturnValueAllNew,
	}, nil
}

func scanFilter(f ListFilter) (string, map[string]string, map[string]types.AttributeValue) {
	var parts []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	if len(f.Statuses) > 0 {
		names["#s"] = "status"
		placeholders := make([]string, 0, len(f.Statuses))
		for i, st := range f.Statuses {
			ph := fmt.Sprintf(":st%d", i)
			values[ph] = &types.AttributeValueMemberS{Value: string(st)}
			placeholders = append(placeholders, ph)
		}
		parts = append(parts, fmt.Sprintf("#s IN (%s)", strings.Join(placeholders, ", ")))
	}
	if f.UserRef != "" {
		values[":user"] = &types.AttributeValueMemberS{Value: f.UserRef}
		parts = append(parts, "user_ref = :user")
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	if len(names) == 0 {
		names = nil
	}
	return strings.Join(parts, " AND "), names, values
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
