package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Default budgets for the two limiter instances.
const (
	DefaultAPIOperations    = 10
	DefaultAPIWindow        = time.Second
	DefaultNotifyOperations = 30
	DefaultNotifyWindow     = 60 * time.Second
)

var waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "clanwatch_ratelimit_wait_seconds",
	Help:    "Time spent waiting for a rate limiter token",
	Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
}, []string{"limiter"})

// Limiter allows at most a fixed number of operations per window. Tokens are
// replenished continuously, so a full budget is spread across the window
// instead of being released in one burst.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// New creates a limiter named name that allows maxOperations per window.
func New(name string, maxOperations int, window time.Duration) (*Limiter, error) {
	if maxOperations <= 0 {
		return nil, fmt.Errorf("limiter %s: max operations must be > 0 (got %d)", name, maxOperations)
	}
	if window <= 0 {
		return nil, fmt.Errorf("limiter %s: window must be > 0 (got %v)", name, window)
	}

	every := window / time.Duration(maxOperations)
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}, nil
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	waitSeconds.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("acquire %s token: %w", l.name, err)
	}
	return nil
}

// Name returns the limiter's label.
func (l *Limiter) Name() string {
	return l.name
}

// Interval returns the time between two tokens.
func (l *Limiter) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(l.limiter.Limit()))
}
