package events

import (
	"context"

	"github.com/imrishuroy/go-engagement-orderflow/internal/aws"
)

// SQSNotifier sends events to an SQS queue. On FIFO queues events of one order keep their order.
type SQSNotifier struct {
	publisher *aws.Publisher
}

func NewSQSNotifier(p *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: p}
}

func (n *SQSNotifier) Notify(ctx context.Context, ev StatusChanged) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	attrs := map[string]string{
		"order_id":           ev.OrderID,
		"merchant_reference": ev.MerchantReference,
		"status":             string(ev.To),
	}
	return n.publisher.Send(ctx, string(body), ev.OrderID, attrs)
}
