package network_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
)

func TestThrottler_AdjustsWithinBounds(t *testing.T) {
	t.Parallel()

	th := network.NewThrottler(network.ThrottleConfig{Ceiling: 2})
	var seen []int
	th.OnChange(func(n int) { seen = append(seen, n) })

	th.Increase()
	if th.Rate() != 2 {
		t.Fatalf("rate must not exceed the ceiling, got %d", th.Rate())
	}
	th.Decrease()
	th.Decrease()
	th.Decrease()
	if th.Rate() != 0 {
		t.Fatalf("rate must not go below zero, got %d", th.Rate())
	}
	th.Increase()
	if th.Rate() != 1 {
		t.Fatalf("expected 1, got %d", th.Rate())
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 rate changes, got %v", seen)
	}
}

func TestThrottler_ZeroRateRecovers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	th := network.NewThrottler(network.ThrottleConfig{
		Ceiling:      1,
		RecoverAfter: 10 * time.Second,
		MaxWait:      2 * time.Second,
		Now:          clock.Now,
	})
	th.Decrease()

	err := th.Acquire(context.Background())
	if !errors.Is(err, provider.ErrServiceNotAvailable) {
		t.Fatalf("expected ServiceNotAvailable at zero rate, got %v", err)
	}

	clock.Advance(10 * time.Second)
	if err := th.Acquire(context.Background()); err != nil {
		t.Fatalf("expected recovery to one permit, got %v", err)
	}
	if th.Rate() != 1 {
		t.Fatalf("expected rate 1 after recovery, got %d", th.Rate())
	}
}

func TestThrottler_WaitBudget(t *testing.T) {
	t.Parallel()

	th := network.NewThrottler(network.ThrottleConfig{
		Ceiling: 1,
		Period:  time.Hour,
		MaxWait: 20 * time.Millisecond,
	})
	if err := th.Acquire(context.Background()); err != nil {
		t.Fatalf("first permit is free: %v", err)
	}
	err := th.Acquire(context.Background())
	if !errors.Is(err, provider.ErrServiceNotAvailable) {
		t.Fatalf("expected wait budget to be exceeded, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := th.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
