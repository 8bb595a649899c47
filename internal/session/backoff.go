package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay is the wait before connect attempt number attempt (1-based).
// Jitter scales the delay into [0.5, 1.5); MaxDelay caps the result either way.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	base := float64(cfg.InitialDelay)
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base * math.Pow(math.Max(cfg.Multiplier, 1.0), float64(attempt-1))
	if cfg.Jitter {
		delay *= jitterFactor(rng)
	}
	if limit := float64(cfg.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}

// jitterFactor is 0.5 without a source so tests stay deterministic.
func jitterFactor(rng *rand.Rand) float64 {
	if rng == nil {
		return 0.5
	}
	return 0.5 + rng.Float64()
}
