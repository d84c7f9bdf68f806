package backend

import (
	"context"
	"testing"
	"time"
)

// newTestHandle constructs a ClientHandle against a local Redis and
// skips the test when none is reachable.
func newTestHandle(t *testing.T) ClientHandle {
	t.Helper()
	h, err := NewClientHandle("redis://localhost:6379/15", 5, false, nil, Options{})
	if err != nil {
		t.Fatalf("NewClientHandle failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Ping(ctx); err != nil {
		h.Close()
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestClientHandlePing(t *testing.T) {
	h := newTestHandle(t)
	if err := h.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestClientHandleCommands(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	client := h.Client()
	if err := client.Set(ctx, "backend:test:key", "v", time.Minute).Err(); err != nil {
		t.Fatalf("SET failed: %v", err)
	}
	got, err := client.Get(ctx, "backend:test:key").Result()
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if got != "v" {
		t.Fatalf("GET = %q, want %q", got, "v")
	}
	client.Del(ctx, "backend:test:key")
}

func TestCloseIdempotent(t *testing.T) {
	h, err := NewClientHandle("localhost:6379", 5, false, nil, Options{})
	if err != nil {
		t.Fatalf("NewClientHandle failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	// go-redis tolerates double close; the handle must too.
	_ = h.Close()
}

func TestBareAddressAccepted(t *testing.T) {
	// Non-URL identities fall back to a bare address; construction does
	// no I/O, so this succeeds even with nothing listening.
	h, err := NewClientHandle("some-host:7000", 5, false, nil, Options{})
	if err != nil {
		t.Fatalf("bare address rejected: %v", err)
	}
	h.Close()
}
