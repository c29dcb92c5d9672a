package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-events", map[string]string{"task": "main"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "other", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Data) != `{"task":"main"}` {
		t.Fatalf("unexpected encoded payload %s", msgs[0].Data)
	}
	if got := pub.Topic("crawl-events"); len(got) != 1 || got[0].ID != "memory-1" {
		t.Fatalf("unexpected topic filter result %+v", got)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("expected nothing recorded")
	}
}
