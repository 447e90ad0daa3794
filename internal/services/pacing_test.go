package services

import (
	"context"
	"testing"
	"time"
)

func TestSendPacer_WaitImmediateWhenUnconstrained(t *testing.T) {
	p := NewSendPacer(1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Wait(ctx, 1, 0); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("an unconstrained wait should return immediately")
	}
}

func TestSendPacer_PerDestinationInterval(t *testing.T) {
	p := NewSendPacer(1000)
	ctx := context.Background()

	// First send passes the burst; the second must wait out the interval.
	if err := p.Wait(ctx, 1, 50*time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx, 1, 50*time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("second send should be delayed by the destination interval")
	}
}

func TestSendPacer_CancelledContext(t *testing.T) {
	p := NewSendPacer(1000)
	if err := p.Wait(context.Background(), 1, time.Hour); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, 1, time.Hour); err == nil {
		t.Error("Wait() on a cancelled context must return an error")
	}
}

func TestSendPacer_EvictsIdleDestinations(t *testing.T) {
	p := NewSendPacer(1000)
	base := time.Now()
	p.now = func() time.Time { return base }

	p.limiterFor(1, time.Second)
	p.limiterFor(2, time.Second)

	// Destination 2 stays active past the idle window, destination 1 does not.
	p.now = func() time.Time { return base.Add(29 * time.Minute) }
	p.limiterFor(2, time.Second)

	p.now = func() time.Time { return base.Add(31 * time.Minute) }
	if removed := p.Evict(); removed != 1 {
		t.Errorf("Evict() removed %d limiters, want 1", removed)
	}
	if _, ok := p.perDst[2]; !ok {
		t.Error("recently used destination must survive eviction")
	}
	if _, ok := p.perDst[1]; ok {
		t.Error("idle destination must be evicted")
	}
}
