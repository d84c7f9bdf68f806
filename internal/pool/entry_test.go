package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForReadySuccess(t *testing.T) {
	client := &fakeClient{}
	e := newPoolEntry("r://a", client, newRecordingSink())

	elapsed, err := e.waitForReady(context.Background(), time.Second, 10*time.Millisecond, 5)
	if err != nil {
		t.Fatalf("waitForReady failed: %v", err)
	}
	if !e.Healthy() {
		t.Fatal("entry not healthy after successful readiness")
	}
	if e.ConnectionDuration() != elapsed {
		t.Fatalf("connection duration %v != returned elapsed %v", e.ConnectionDuration(), elapsed)
	}
}

func TestWaitForReadyRetryExhaustion(t *testing.T) {
	sink := newRecordingSink()
	client := &fakeClient{pingErr: errors.New("connection refused")}
	e := newPoolEntry("r://a", client, sink)

	_, err := e.waitForReady(context.Background(), time.Second, time.Millisecond, 2)
	if !errors.Is(err, ErrNoHealthyPools) {
		t.Fatalf("expected ErrNoHealthyPools, got %v", err)
	}
	if e.Healthy() {
		t.Fatal("failed readiness must not mark the entry healthy")
	}
	sink.mu.Lock()
	failed := sink.failedConns["r://a"]
	sink.mu.Unlock()
	if failed != 2 {
		t.Fatalf("failed-connection counter = %d, want 2", failed)
	}
}

func TestWaitForReadyBudgetExhaustion(t *testing.T) {
	client := &fakeClient{pingErr: errors.New("connection refused")}
	e := newPoolEntry("r://a", client, newRecordingSink())

	start := time.Now()
	_, err := e.waitForReady(context.Background(), 50*time.Millisecond, 10*time.Millisecond, 100)
	if !errors.Is(err, ErrNoHealthyPools) {
		t.Fatalf("expected ErrNoHealthyPools, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("budget of 50ms took %v", elapsed)
	}
}

func TestWaitForReadyBackoffDoubles(t *testing.T) {
	// Two failures before success: sleeps of 2·step then 4·step, so the
	// whole call takes at least 6·step (first sleep already doubled).
	client := &fakeClient{pingErr: errors.New("not yet")}
	e := newPoolEntry("r://a", client, newRecordingSink())

	go func() {
		time.Sleep(50 * time.Millisecond)
		client.setPingErr(nil)
	}()

	const step = 20 * time.Millisecond
	start := time.Now()
	if _, err := e.waitForReady(context.Background(), 5*time.Second, step, 10); err != nil {
		t.Fatalf("waitForReady failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*step {
		t.Fatalf("first backoff sleep was %v, want at least 2·step (%v)", elapsed, 2*step)
	}
}

func TestHealthCheckFlipsStatus(t *testing.T) {
	client := &fakeClient{}
	e := newPoolEntry("r://a", client, newRecordingSink())
	ctx := context.Background()

	e.healthCheck(ctx)
	if !e.Healthy() {
		t.Fatal("entry not healthy after successful ping")
	}

	client.setPingErr(errors.New("broken pipe"))
	e.healthCheck(ctx)
	if e.Healthy() {
		t.Fatal("entry healthy after failed ping")
	}

	client.setPingErr(nil)
	e.healthCheck(ctx)
	if !e.Healthy() {
		t.Fatal("entry not healthy after ping recovered")
	}
}

func TestEntryClose(t *testing.T) {
	client := &fakeClient{}
	e := newPoolEntry("r://a", client, newRecordingSink())
	if _, err := e.waitForReady(context.Background(), time.Second, time.Millisecond, 3); err != nil {
		t.Fatalf("waitForReady failed: %v", err)
	}

	if err := e.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if e.Healthy() {
		t.Fatal("entry healthy after close")
	}
	if client.closeCount() != 1 {
		t.Fatalf("client closed %d times, want 1", client.closeCount())
	}
}

func TestAdoptClient(t *testing.T) {
	oldClient := &fakeClient{}
	e := newPoolEntry("r://a", oldClient, newRecordingSink())

	replacement := &fakeClient{}
	got := e.adoptClient(replacement)
	if got != oldClient {
		t.Fatal("adoptClient did not return the previous client")
	}
	if e.Client() != replacement {
		t.Fatal("adoptClient did not install the replacement")
	}
	if !e.Healthy() {
		t.Fatal("adoptClient must mark the entry healthy")
	}
}
