package inbound

import (
	"context"
	"testing"

	"github.com/dunamis-labs/agenda-core/internal/noshow"
	"github.com/dunamis-labs/agenda-core/internal/queue"
)

type fakeQueue struct {
	messages []queue.Message
	deleted  []string
	drained  bool
}

func (f *fakeQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queue.Message, error) {
	if f.drained {
		return nil, nil
	}
	f.drained = true
	return f.messages, nil
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func TestConsumerProcessesQueuedEnvelopeAndAcks(t *testing.T) {
	body := envelopeJSON(false, "5571999990001@s.whatsapp.net", "oi", "Maria")
	q := &fakeQueue{messages: []queue.Message{{ID: "m1", Body: string(body), ReceiptHandle: "r1"}}}
	sd := &fakeSender{}
	dispatcher := NewDispatcher(&fakeDetector{}, &fakeRegistry{}, &fakeNoShow{err: noshow.ErrNoPendingReply}, &fakeDialogue{reply: "oi!"}, sd, nil)
	c := NewConsumer(q, &fakeResolver{tenantID: "t1"}, dispatcher, nil)

	c.process(context.Background(), q.messages[0])

	if len(sd.sent) != 1 {
		t.Fatalf("expected dispatch to send a reply, got %v", sd.sent)
	}
	if len(q.deleted) != 1 || q.deleted[0] != "r1" {
		t.Fatalf("expected message acked, got %v", q.deleted)
	}
}

func TestConsumerAcksMalformedMessageWithoutDispatch(t *testing.T) {
	q := &fakeQueue{messages: []queue.Message{{ID: "m1", Body: "not json", ReceiptHandle: "r1"}}}
	dispatcher := NewDispatcher(&fakeDetector{}, &fakeRegistry{}, &fakeNoShow{}, &fakeDialogue{}, &fakeSender{}, nil)
	c := NewConsumer(q, &fakeResolver{tenantID: "t1"}, dispatcher, nil)

	c.process(context.Background(), q.messages[0])

	if len(q.deleted) != 1 {
		t.Fatalf("expected malformed message acked anyway, got %v", q.deleted)
	}
}

func TestConsumerAcksIgnoredFromMeMessage(t *testing.T) {
	body := envelopeJSON(true, "5571999990001@s.whatsapp.net", "oi", "")
	q := &fakeQueue{messages: []queue.Message{{ID: "m1", Body: string(body), ReceiptHandle: "r1"}}}
	dispatcher := NewDispatcher(&fakeDetector{}, &fakeRegistry{}, &fakeNoShow{}, &fakeDialogue{}, &fakeSender{}, nil)
	c := NewConsumer(q, &fakeResolver{tenantID: "t1"}, dispatcher, nil)

	c.process(context.Background(), q.messages[0])

	if len(q.deleted) != 1 {
		t.Fatalf("expected ignored message acked, got %v", q.deleted)
	}
}
