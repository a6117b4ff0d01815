package ratelimit

import "context"

// RateLimiter controls outbound delivery throughput per channel, so one
// fanout batch cannot exceed a provider's rate limit.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited is a pass-through limiter for tests and single-node setups.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, channel string) (bool, error) { return true, nil }
func (Unlimited) Wait(ctx context.Context, channel string) error          { return nil }
