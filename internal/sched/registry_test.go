package sched

import (
	"testing"
	"time"
)

func key(kind string) Key {
	return Key{Kind: kind, ConversationID: "conv-1", UserID: "user-a"}
}

func TestScheduleFires(t *testing.T) {
	r := New()
	fired := make(chan struct{})

	r.Schedule(key(KindTypingExpiry), 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if r.Active(key(KindTypingExpiry)) {
		t.Error("fired timer still registered")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	r := New()
	fired := make(chan struct{}, 1)

	r.Schedule(key(KindTypingExpiry), 20*time.Millisecond, func() { fired <- struct{}{} })
	if !r.Cancel(key(KindTypingExpiry)) {
		t.Fatal("Cancel reported no pending timer")
	}

	select {
	case <-fired:
		t.Error("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduleReplacesNeverStacks(t *testing.T) {
	r := New()
	fired := make(chan int, 2)

	k := key(KindTypingExpiry)
	r.Schedule(k, 15*time.Millisecond, func() { fired <- 1 })
	r.Schedule(k, 30*time.Millisecond, func() { fired <- 2 })

	if got := r.Len(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}

	select {
	case got := <-fired:
		if got != 2 {
			t.Errorf("replaced timer fired (got %d, want 2)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("replacement timer never fired")
	}

	// The first schedule must not fire afterwards.
	select {
	case got := <-fired:
		t.Errorf("stale timer fired: %d", got)
	case <-time.After(40 * time.Millisecond):
	}
}

func TestKeysAreIndependent(t *testing.T) {
	r := New()
	fired := make(chan string, 2)

	r.Schedule(Key{Kind: KindTypingExpiry, ConversationID: "c1", UserID: "a"}, 10*time.Millisecond, func() { fired <- "a" })
	r.Schedule(Key{Kind: KindTypingExpiry, ConversationID: "c1", UserID: "b"}, 10*time.Millisecond, func() { fired <- "b" })

	if got := r.Len(); got != 2 {
		t.Fatalf("pending timers = %d, want 2", got)
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-fired:
			seen[u] = true
		case <-time.After(time.Second):
			t.Fatal("timers did not fire")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want both users", seen)
	}
}

func TestCancelAll(t *testing.T) {
	r := New()
	fired := make(chan struct{}, 2)

	r.Schedule(Key{Kind: KindTypingExpiry, ConversationID: "c1", UserID: "a"}, 20*time.Millisecond, func() { fired <- struct{}{} })
	r.Schedule(Key{Kind: KindTypingDebounce, ConversationID: "c1", UserID: "a"}, 20*time.Millisecond, func() { fired <- struct{}{} })

	r.CancelAll()
	if got := r.Len(); got != 0 {
		t.Fatalf("pending timers after CancelAll = %d, want 0", got)
	}

	select {
	case <-fired:
		t.Error("timer fired after CancelAll")
	case <-time.After(60 * time.Millisecond):
	}
}
