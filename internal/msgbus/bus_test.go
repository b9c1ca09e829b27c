package msgbus

import (
	"errors"
	"testing"
	"time"
)

func TestPostSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan Message, 4)
	if err := b.Subscribe("app", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Post(Message{Type: TypeError, Source: "vfsrc", Text: "failed to negotiate vfsrc"})

	select {
	case msg := <-ch:
		if msg.Type != TypeError || msg.Source != "vfsrc" {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.Seq != 1 {
			t.Errorf("expected seq 1, got %d", msg.Seq)
		}
		if msg.Time.IsZero() {
			t.Error("message time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPostNeverBlocks(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan Message, 1)
	_ = b.Subscribe("slow", ch)

	done := make(chan struct{})
	go func() {
		b.Post(Message{Type: TypeInfo})
		b.Post(Message{Type: TypeInfo})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Post blocked on a full subscriber")
	}

	stats, err := b.Stats("slow")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("expected 1 sent / 1 dropped, got %+v", stats)
	}
}

func TestSubscribeErrors(t *testing.T) {
	b := New()

	if err := b.Subscribe("x", nil); !errors.Is(err, ErrNilChannel) {
		t.Errorf("expected ErrNilChannel, got %v", err)
	}
	ch := make(chan Message, 1)
	if err := b.Subscribe("x", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("x", ch); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("expected ErrSubscriberExists, got %v", err)
	}
	if err := b.Unsubscribe("y"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("expected ErrSubscriberNotFound, got %v", err)
	}
	if err := b.Unsubscribe("x"); err != nil {
		t.Errorf("Unsubscribe failed: %v", err)
	}

	b.Close()
	if err := b.Subscribe("z", ch); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	// posting on a closed bus is a no-op
	b.Post(Message{Type: TypeInfo})
}
