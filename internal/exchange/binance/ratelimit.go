package binance

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// weightLimiter tracks Binance's weight-based usage as reported by the
// X-MBX-USED-WEIGHT-1M response header, and layers a generic token-bucket
// limiter underneath for pacing outbound calls between weight refreshes.
type weightLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex

	pacer *rate.Limiter
}

// newWeightLimiter creates a limiter for the given weight budget and reset
// window (1200/minute for spot), paced by a token bucket so bursts of
// candidate-pool requests don't hammer the venue even between weight
// header refreshes.
func newWeightLimiter(limit int, resetInterval time.Duration) *weightLimiter {
	return &weightLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		pacer:         rate.NewLimiter(rate.Limit(limit)/rate.Limit(resetInterval.Seconds()), limit/10),
	}
}

// updateFromHeader updates the used weight from the API response header.
func (rl *weightLimiter) updateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("⚠️ rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("⚠️ rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// wait blocks until the token-bucket pacer admits the next outbound call.
func (rl *weightLimiter) wait(ctx context.Context) error {
	return rl.pacer.Wait(ctx)
}

// usage returns current weight usage.
func (rl *weightLimiter) usage() (used, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}
