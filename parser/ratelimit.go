package parser

import (
	"context"
	"time"
)

// RateLimiter spaces out page fetches so a chapter download does not hammer
// the image host. It is shared by all download workers of one chapter.
type RateLimiter struct {
	ticker *time.Ticker
}

// NewRateLimiter creates a new rate limiter with the specified interval.
// A zero or negative interval disables limiting.
//
// Example usage:
//
//	limiter := parser.NewRateLimiter(250 * time.Millisecond)
//	defer limiter.Stop()
//
//	for _, page := range pages {
//	    if err := limiter.Wait(ctx); err != nil {
//	        return err
//	    }
//	    // ... fetch page ...
//	}
func NewRateLimiter(interval time.Duration) *RateLimiter {
	rl := &RateLimiter{}
	if interval > 0 {
		rl.ticker = time.NewTicker(interval)
	}
	return rl
}

// Wait blocks until the next tick or until ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ticker == nil {
		return ctx.Err()
	}

	select {
	case <-rl.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the rate limiter and releases resources.
// Typically used with defer: defer limiter.Stop()
func (rl *RateLimiter) Stop() {
	if rl.ticker != nil {
		rl.ticker.Stop()
	}
}
