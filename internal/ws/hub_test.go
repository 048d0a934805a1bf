package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type captureSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	closed   bool
	received chan struct{}
}

func newCaptureSubscriber() *captureSubscriber {
	return &captureSubscriber{received: make(chan struct{}, 8)}
}

func (c *captureSubscriber) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	c.received <- struct{}{}
	return nil
}

func (c *captureSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureSubscriber) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestBroadcastReachesOnlyProjectSubscribers(t *testing.T) {
	hub := NewHub(0)
	sub1 := newCaptureSubscriber()
	sub2 := newCaptureSubscriber()
	other := newCaptureSubscriber()
	hub.Register("project-1", sub1)
	hub.Register("project-1", sub2)
	hub.Register("project-2", other)

	hub.Broadcast("project-1", []byte("payload"))
	waitFor(t, sub1.received)
	waitFor(t, sub2.received)

	if other.count() != 0 {
		t.Fatalf("subscriber of another project must not receive the payload")
	}
}

func TestBroadcastDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(0)
	failing := newCaptureSubscriber()
	failing.sendErr = errors.New("connection gone")
	healthy := newCaptureSubscriber()
	hub.Register("project-1", failing)
	hub.Register("project-1", healthy)

	hub.Broadcast("project-1", []byte("first"))
	waitFor(t, healthy.received)
	hub.Broadcast("project-1", []byte("second"))
	waitFor(t, healthy.received)

	failing.mu.Lock()
	closed := failing.closed
	failing.mu.Unlock()
	if !closed {
		t.Fatalf("expected failing subscriber to be closed and evicted")
	}
	if healthy.count() != 2 {
		t.Fatalf("expected healthy subscriber to keep receiving, got %d payloads", healthy.count())
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(0)
	sub := newCaptureSubscriber()
	hub.Register("project-1", sub)
	hub.Broadcast("project-1", []byte("one"))
	waitFor(t, sub.received)

	hub.Unregister("project-1", sub)
	hub.Broadcast("project-1", []byte("two"))

	// Broadcast is processed by the hub loop; give it a beat to settle.
	time.Sleep(20 * time.Millisecond)
	if sub.count() != 1 {
		t.Fatalf("expected no delivery after unregister, got %d payloads", sub.count())
	}
}
