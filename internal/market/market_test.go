package market

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestSimulator_Tick_FloorClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartPrice = 2.0
	cfg.Drift = -1000.0
	cfg.Volatility = 0 // deterministic: change == drift

	sim := New(cfg, rand.New(rand.NewSource(1)), nil)
	for i := 0; i < 5; i++ {
		sim.Tick()
		if price := sim.Price(); price < cfg.FloorPrice {
			t.Fatalf("price %f fell below floor %f", price, cfg.FloorPrice)
		}
	}
	if price := sim.Price(); price != cfg.FloorPrice {
		t.Errorf("expected price clamped to %f, got %f", cfg.FloorPrice, price)
	}
}

func TestSimulator_Tick_NeverNonPositive(t *testing.T) {
	cfg := DefaultConfig()
	sim := New(cfg, rand.New(rand.NewSource(42)), nil)

	for i := 0; i < 1000; i++ {
		sim.Tick()
		if price := sim.Price(); price <= 0 {
			t.Fatalf("price went non-positive after tick %d: %f", i, price)
		}
	}
}

func TestSimulator_HistoryEvictionFIFO(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	cfg.Volatility = 0
	cfg.Drift = 1.0 // price climbs 1.0 per tick, so every point is distinct

	sim := New(cfg, rand.New(rand.NewSource(1)), nil)

	var seen []float64
	for i := 0; i < 10; i++ {
		sim.Tick()
		seen = append(seen, sim.Price())
	}

	_, history := sim.Snapshot()
	if len(history) != cfg.HistoryLimit {
		t.Fatalf("expected history length %d, got %d", cfg.HistoryLimit, len(history))
	}
	// Oldest entries evicted first: history holds the last 5 ticks in order.
	want := seen[len(seen)-cfg.HistoryLimit:]
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %f, want %f", i, history[i], want[i])
		}
	}
}

func TestSimulator_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	sim := New(cfg, rand.New(rand.NewSource(7)), nil)

	for i := 0; i < 300; i++ {
		sim.Tick()
		if _, history := sim.Snapshot(); len(history) > cfg.HistoryLimit {
			t.Fatalf("history grew past %d entries: %d", cfg.HistoryLimit, len(history))
		}
	}
}

func TestSimulator_SnapshotIsCopy(t *testing.T) {
	sim := New(DefaultConfig(), rand.New(rand.NewSource(1)), nil)
	sim.Tick()

	_, history := sim.Snapshot()
	history[0] = -999

	_, again := sim.Snapshot()
	if again[0] == -999 {
		t.Error("mutating a snapshot leaked into simulator state")
	}
}

func TestSimulator_Run(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond

	sim := New(cfg, rand.New(rand.NewSource(1)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop on context cancellation")
	}

	if _, history := sim.Snapshot(); len(history) < 2 {
		t.Errorf("expected the simulator to tick while running, history length %d", len(history))
	}
}
