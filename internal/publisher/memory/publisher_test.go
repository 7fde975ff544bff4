package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

func TestPublisherRecordsEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	var _ visitor.Publisher = pub

	code := 200
	id, err := pub.Publish(context.Background(), "sessions", visitor.Session{ID: "s-1", State: visitor.StateFetchedValid, Result: &code})
	if err != nil || id != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id, err)
	}
	if _, err := pub.Publish(context.Background(), "audit", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := len(pub.Messages("")); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
	msgs := pub.Messages("sessions")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 session message, got %d", len(msgs))
	}
	var sess visitor.Session
	if err := msgs[0].Decode(&sess); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if sess.ID != "s-1" || sess.State != visitor.StateFetchedValid || *sess.Result != 200 {
		t.Fatalf("unexpected decoded session %+v", sess)
	}
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "sessions", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.Messages("")) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}
