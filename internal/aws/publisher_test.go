package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSend_SetsAttributes(t *testing.T) {
	f := &fakeSQS{}
	p := NewPublisher(f, "https://sqs.local/queue")

	err := p.Send(context.Background(), `{"order_id":"o1"}`, "", map[string]string{
		"order_id":       "o1",
		"correlation_id": "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(f.inputs))
	}
	in := f.inputs[0]
	if *in.QueueUrl != "https://sqs.local/queue" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if in.MessageGroupId != nil {
		t.Fatalf("expected no group id for standard queue")
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty attributes must be skipped")
	}
	if v := in.MessageAttributes["order_id"].StringValue; v == nil || *v != "o1" {
		t.Fatalf("order_id attribute mismatch: %v", v)
	}
}

func TestPublisherSend_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&fakeSQS{err: boom}, "q")

	err := p.Send(context.Background(), "{}", "g1", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
