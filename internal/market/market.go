package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds simulator parameters.
type Config struct {
	Interval     time.Duration // Tick interval (default: 1s)
	StartPrice   float64       // Initial price (default: 100)
	FloorPrice   float64       // Lowest price allowed after a tick (default: 1)
	Drift        float64       // Constant upward bias per tick (default: 0.1)
	Volatility   float64       // Stddev of the Gaussian perturbation (default: 0.5)
	HistoryLimit int           // Max retained history points (default: 100)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Second,
		StartPrice:   100.0,
		FloorPrice:   1.0,
		Drift:        0.1,
		Volatility:   0.5,
		HistoryLimit: 100,
	}
}

// Simulator owns the synthetic price feed. It is the only writer of the
// current price and history; everything else reads snapshots. State is
// in-memory only and resets on restart.
type Simulator struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger

	mu      sync.RWMutex
	price   float64
	history []float64
}

// New creates a simulator. The RNG is injected so tests can seed it.
func New(cfg Config, rng *rand.Rand, logger *zap.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:     cfg,
		rng:     rng,
		logger:  logger,
		price:   cfg.StartPrice,
		history: []float64{cfg.StartPrice},
	}
}

// Run advances the price once per tick until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("market simulator started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Float64("start_price", s.cfg.StartPrice))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market simulator stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick applies one random-walk step: Gaussian noise plus upward drift,
// clamped at the floor so the price never goes non-positive. History keeps
// the last HistoryLimit points, oldest evicted first.
func (s *Simulator) Tick() {
	change := s.rng.NormFloat64()*s.cfg.Volatility + s.cfg.Drift

	s.mu.Lock()
	defer s.mu.Unlock()

	s.price += change
	if s.price < s.cfg.FloorPrice {
		s.price = s.cfg.FloorPrice
	}
	s.history = append(s.history, s.price)
	if len(s.history) > s.cfg.HistoryLimit {
		s.history = s.history[1:]
	}
}

// Price returns the current market price.
func (s *Simulator) Price() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// Snapshot returns the current price and a copy of the history.
func (s *Simulator) Snapshot() (float64, []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]float64, len(s.history))
	copy(history, s.history)
	return s.price, history
}
