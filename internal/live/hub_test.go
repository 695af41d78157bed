package live

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	h := NewHub(4)
	defer h.Close()

	a1, cancelA1 := h.Subscribe(1)
	defer cancelA1()
	a2, cancelA2 := h.Subscribe(1)
	defer cancelA2()
	b, cancelB := h.Subscribe(2)
	defer cancelB()

	h.Publish(1, "reply", map[string]string{"reply": "hi"})

	for _, ch := range []<-chan Event{a1, a2} {
		if ev := recv(t, ch); ev.Kind != "reply" {
			t.Fatalf("kind = %q", ev.Kind)
		}
	}
	select {
	case ev := <-b:
		t.Fatalf("user 2 received %+v", ev)
	default:
	}
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	defer h.Close()
	ch, cancel := h.Subscribe(7)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(7, "typing", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}

func TestHub_CancelRemovesAndCloses(t *testing.T) {
	h := NewHub(2)
	defer h.Close()

	ch, cancel := h.Subscribe(3)
	if h.Subscribers(3) != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if h.Subscribers(3) != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	h.Publish(3, "reply", nil)
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	h := NewHub(2)
	ch1, cancel1 := h.Subscribe(1)
	ch2, _ := h.Subscribe(2)

	h.Close()
	for _, ch := range []<-chan Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Fatalf("channel should be closed after Close")
		}
	}
	cancel1()

	late, _ := h.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("subscription after Close should be closed")
	}
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	h := NewHub(32)
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		uid := uint64(i % 4)
		go func() {
			defer wg.Done()
			ch, cancel := h.Subscribe(uid)
			h.Publish(uid, "typing", nil)
			<-ch
			cancel()
		}()
		go func() {
			defer wg.Done()
			h.Publish(uid, "reply", nil)
		}()
	}
	wg.Wait()
	for uid := uint64(0); uid < 4; uid++ {
		if n := h.Subscribers(uid); n != 0 {
			t.Fatalf("user %d left %d subscribers", uid, n)
		}
	}
}
