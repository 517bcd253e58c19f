package client

import (
	"context"
	"fmt"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Pool runs a fixed number of fetch workers that share one request channel and
// one rate limiter. Each worker owns its own Client, and with it its own
// connection pool, for as long as it runs.
type Pool struct {
	size    int
	config  Config
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	// newClient is replaced in tests.
	newClient func(workerID int) (*Client, error)
}

// NewPool creates a worker pool of size workers.
func NewPool(size int, cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("fetch pool size must be >= 1 (got %d)", size)
	}
	p := &Pool{
		size:    size,
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}
	p.newClient = func(workerID int) (*Client, error) {
		return New(p.config, p.limiter, p.logger.With().Int("worker_id", workerID).Logger())
	}
	return p, nil
}

// Run starts the workers and blocks until all of them have stopped. Workers
// stop when ctx is done or in is closed.
func (p *Pool) Run(ctx context.Context, in <-chan api.Request, out chan<- Response) error {
	clients := make([]*Client, p.size)
	for i := range clients {
		c, err := p.newClient(i)
		if err != nil {
			return fmt.Errorf("create fetch worker %d: %w", i, err)
		}
		clients[i] = c
	}

	var wg conc.WaitGroup
	for i, c := range clients {
		wg.Go(func() {
			defer c.Close()
			p.work(ctx, i, c, in, out)
		})
	}

	if r := wg.WaitAndRecover(); r != nil {
		p.logger.Error().Str("panic", r.String()).Msg("Fetch worker panicked")
	}
	return nil
}

// work consumes requests from in and sends one Response per request to out.
func (p *Pool) work(ctx context.Context, workerID int, c *Client, in <-chan api.Request, out chan<- Response) {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("requests_processed", processed).
				Msg("Fetch worker stopping (context cancelled)")
			return
		case req, ok := <-in:
			if !ok {
				p.logger.Debug().
					Int("worker_id", workerID).
					Int("requests_processed", processed).
					Msg("Fetch worker completed")
				return
			}

			resp := c.Fetch(ctx, req)
			select {
			case out <- resp:
				processed++
			case <-ctx.Done():
				return
			}
		}
	}
}
