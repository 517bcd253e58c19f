// Package producer enumerates the registry on a schedule and emits clan API
// requests: name searches for unresolved clans and grouped detail lookups for
// resolved ones.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	requestsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_producer_requests_total",
		Help: "Total requests emitted by the producer by kind",
	}, []string{"kind"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_producer_cycles_total",
		Help: "Total completed producer cycles by loop",
	}, []string{"loop"})
)

// Source is the registry view the producer enumerates.
type Source interface {
	UnresolvedNames() []string
	ResolvedIDs() []int64
}

// Tracker counts outstanding work. *sync.WaitGroup satisfies it.
type Tracker interface {
	Add(delta int)
}

// Config holds the producer configuration.
type Config struct {
	ApplicationID string
	Endpoints     api.Endpoints

	// ResolveInterval and RefreshInterval separate cycles of each loop.
	// Zero runs the loop exactly once.
	ResolveInterval time.Duration
	RefreshInterval time.Duration

	// MaxGroupSize bounds the clan ids per detail request.
	MaxGroupSize int
}

// Producer emits requests onto the shared request channel.
type Producer struct {
	config  Config
	source  Source
	out     chan<- api.Request
	pending Tracker
	logger  zerolog.Logger
}

// New creates a producer. pending may be nil.
func New(cfg Config, source Source, out chan<- api.Request, pending Tracker, logger zerolog.Logger) (*Producer, error) {
	if source == nil {
		return nil, errors.New("producer source is required")
	}
	if out == nil {
		return nil, errors.New("producer output channel is required")
	}
	if cfg.ResolveInterval < 0 || cfg.RefreshInterval < 0 {
		return nil, fmt.Errorf("producer intervals must be >= 0")
	}
	if cfg.MaxGroupSize <= 0 {
		cfg.MaxGroupSize = pagination.DefaultMaxGroupSize
	}
	return &Producer{
		config:  cfg,
		source:  source,
		out:     out,
		pending: pending,
		logger:  logger,
	}, nil
}

// ResolveLoop emits one page-1 search request per unresolved clan name each
// cycle. It returns after one cycle when ResolveInterval is zero, and
// ctx.Err() when cancelled.
func (p *Producer) ResolveLoop(ctx context.Context) error {
	return p.loop(ctx, "resolve", p.config.ResolveInterval, p.ResolveCycle)
}

// RefreshLoop emits one detail request per group of resolved clan ids each
// cycle. It returns after one cycle when RefreshInterval is zero, and
// ctx.Err() when cancelled.
func (p *Producer) RefreshLoop(ctx context.Context) error {
	return p.loop(ctx, "refresh", p.config.RefreshInterval, p.RefreshCycle)
}

// ResolveCycle runs a single resolve cycle and returns the number of
// requests emitted.
func (p *Producer) ResolveCycle(ctx context.Context, logger zerolog.Logger) (int, error) {
	emitted := 0
	for _, name := range p.source.UnresolvedNames() {
		req := api.NewSearchRequest(p.config.Endpoints, p.config.ApplicationID, name, 1)
		if err := p.emit(ctx, req); err != nil {
			return emitted, err
		}
		emitted++
		logger.Debug().Str("clan", name).Msg("Search request emitted")
	}
	return emitted, nil
}

// RefreshCycle runs a single refresh cycle and returns the number of
// requests emitted.
func (p *Producer) RefreshCycle(ctx context.Context, logger zerolog.Logger) (int, error) {
	groups := pagination.Partition(p.source.ResolvedIDs(), p.config.MaxGroupSize)
	for i, ids := range groups {
		req := api.NewDetailsRequest(p.config.Endpoints, p.config.ApplicationID, ids)
		if err := p.emit(ctx, req); err != nil {
			return i, err
		}
		logger.Debug().Int("group_size", len(ids)).Msg("Details request emitted")
	}
	return len(groups), nil
}

type cycleFunc func(ctx context.Context, logger zerolog.Logger) (int, error)

func (p *Producer) loop(ctx context.Context, name string, interval time.Duration, cycle cycleFunc) error {
	for {
		logger := p.logger.With().
			Str("loop", name).
			Str("cycle_id", uuid.NewString()).
			Logger()

		start := time.Now()
		emitted, err := cycle(ctx, logger)
		if err != nil {
			logger.Debug().Err(err).Int("emitted", emitted).Msg("Producer cycle interrupted")
			return err
		}
		cyclesTotal.WithLabelValues(name).Inc()
		logger.Info().
			Int("emitted", emitted).
			Dur("duration", time.Since(start)).
			Msg("Producer cycle completed")

		if interval == 0 {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// emit registers req as pending work and sends it. The registration is
// undone when ctx ends before the send completes.
func (p *Producer) emit(ctx context.Context, req api.Request) error {
	if p.pending != nil {
		p.pending.Add(1)
	}
	select {
	case p.out <- req:
		requestsEmitted.WithLabelValues(string(req.Kind)).Inc()
		return nil
	case <-ctx.Done():
		if p.pending != nil {
			p.pending.Add(-1)
		}
		return ctx.Err()
	}
}
