package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Local paces calls within a single process using a token bucket, used
// for the per-protocol pacing knobs (§4.5 reconciler sweep pacing)
// when a distributed limiter isn't warranted.
type Local struct {
	limiter *rate.Limiter
}

func NewLocal(everyPerSecond float64, burst int) *Local {
	return &Local{limiter: rate.NewLimiter(rate.Limit(everyPerSecond), burst)}
}

func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
