// Package pipeline wires the producer, fetch workers, reconcilers and the
// notifier together with typed channels and supervises their lifetime.
//
//	producer ──api.Request──▶ fetch workers ──client.Response──▶ reconcilers ──clan.ChangeEvent──▶ notifier
//	    ▲                                                            │
//	    └──────────────────── follow-up search pages ◀───────────────┘
//
// The registry is the only state shared between stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/Sternrassler/clanwatch/pkg/client"
	"github.com/Sternrassler/clanwatch/pkg/notify"
	"github.com/Sternrassler/clanwatch/pkg/producer"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/Sternrassler/clanwatch/pkg/reconcile"
	"github.com/Sternrassler/clanwatch/pkg/registry"
	"github.com/Sternrassler/clanwatch/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// DefaultFlushTimeout bounds the final roster save.
const DefaultFlushTimeout = 30 * time.Second

// Config holds the pipeline configuration.
type Config struct {
	ApplicationID string
	Endpoints     api.Endpoints

	// Zero for both intervals runs every loop once and returns when all
	// produced work has been processed.
	ResolveInterval time.Duration
	RefreshInterval time.Duration

	MaxGroupSize  int
	FetchWorkers  int
	Reconcilers   int
	ChannelBuffer int
	FlushTimeout  time.Duration

	Client client.Config
	Notify notify.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints:       api.NewEndpoints("https://api.worldoftanks.eu/wot"),
		ResolveInterval: 7 * 24 * time.Hour,
		RefreshInterval: time.Hour,
		MaxGroupSize:    100,
		FetchWorkers:    4,
		Reconcilers:     1,
		ChannelBuffer:   64,
		FlushTimeout:    DefaultFlushTimeout,
		Client:          client.DefaultConfig(),
		Notify:          notify.Config{ProfileBaseURL: notify.DefaultProfileBaseURL},
	}
}

// RunOnce reports whether the configuration describes a single pass.
func (c Config) RunOnce() bool {
	return c.ResolveInterval == 0 && c.RefreshInterval == 0
}

// Pipeline is one running clan watcher.
type Pipeline struct {
	config   Config
	registry *registry.Registry
	store    storage.Store
	logger   zerolog.Logger

	producer    *producer.Producer
	pool        *client.Pool
	reconcilers []*reconcile.Reconciler
	notifier    *notify.Notifier

	requests  chan api.Request
	responses chan client.Response
	events    chan clan.ChangeEvent
	pending   *workCounter

	flushOnce sync.Once
	flushErr  error
}

// New assembles a pipeline. apiLimiter is shared by every fetch worker,
// notifyLimiter by the notifier alone.
func New(cfg Config, reg *registry.Registry, store storage.Store, apiLimiter, notifyLimiter *ratelimit.Limiter, sink notify.Sink, logger zerolog.Logger) (*Pipeline, error) {
	if reg == nil || store == nil {
		return nil, errors.New("pipeline requires a registry and a store")
	}
	if cfg.Reconcilers < 1 {
		cfg.Reconcilers = 1
	}
	if cfg.ChannelBuffer < 0 {
		cfg.ChannelBuffer = 0
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}

	p := &Pipeline{
		config:    cfg,
		registry:  reg,
		store:     store,
		logger:    logger,
		requests:  make(chan api.Request, cfg.ChannelBuffer),
		responses: make(chan client.Response, cfg.ChannelBuffer),
		events:    make(chan clan.ChangeEvent, cfg.ChannelBuffer),
		pending:   &workCounter{},
	}

	var err error
	p.producer, err = producer.New(producer.Config{
		ApplicationID:   cfg.ApplicationID,
		Endpoints:       cfg.Endpoints,
		ResolveInterval: cfg.ResolveInterval,
		RefreshInterval: cfg.RefreshInterval,
		MaxGroupSize:    cfg.MaxGroupSize,
	}, reg, p.requests, p.pending, logger.With().Str("component", "producer").Logger())
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}

	p.pool, err = client.NewPool(cfg.FetchWorkers, cfg.Client, apiLimiter, logger.With().Str("component", "fetcher").Logger())
	if err != nil {
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}

	for i := 0; i < cfg.Reconcilers; i++ {
		rec, err := reconcile.New(reconcile.Config{
			ApplicationID: cfg.ApplicationID,
			Endpoints:     cfg.Endpoints,
		}, reg, p.requests, p.events, p.pending, logger.With().Str("component", "reconciler").Int("reconciler_id", i).Logger())
		if err != nil {
			return nil, fmt.Errorf("create reconciler %d: %w", i, err)
		}
		p.reconcilers = append(p.reconcilers, rec)
	}

	p.notifier, err = notify.New(cfg.Notify, sink, notifyLimiter, p.pending, logger.With().Str("component", "notifier").Logger())
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	return p, nil
}

// Run starts every stage and blocks until ctx is cancelled or, in run-once
// mode, until all produced work has been processed. The roster is flushed
// before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.logger.Info().
		Int("clans", p.registry.Len()).
		Int("fetch_workers", p.config.FetchWorkers).
		Int("reconcilers", len(p.reconcilers)).
		Bool("run_once", p.config.RunOnce()).
		Msg("Pipeline starting")

	var stages conc.WaitGroup
	stages.Go(func() {
		if err := p.pool.Run(runCtx, p.requests, p.responses); err != nil {
			p.logger.Error().Err(err).Msg("Fetch pool failed")
			cancel()
		}
	})
	for _, rec := range p.reconcilers {
		stages.Go(func() {
			p.logStop("reconciler", rec.Run(runCtx, p.responses))
		})
	}
	stages.Go(func() {
		p.logStop("notifier", p.notifier.Run(runCtx, p.events))
	})

	var producers conc.WaitGroup
	producers.Go(func() { p.logStop("resolve loop", p.producer.ResolveLoop(runCtx)) })
	producers.Go(func() { p.logStop("refresh loop", p.producer.RefreshLoop(runCtx)) })

	producersStopped := false
	if p.config.RunOnce() {
		p.logPanic("producer", producers.WaitAndRecover())
		producersStopped = true
		select {
		case <-p.pending.Idle():
			p.logger.Info().Msg("All work processed")
		case <-runCtx.Done():
		}
	} else {
		<-runCtx.Done()
	}

	p.logger.Info().Int("pending", p.pending.Len()).Msg("Pipeline shutting down")
	cancel()
	if !producersStopped {
		p.logPanic("producer", producers.WaitAndRecover())
	}
	p.logPanic("stage", stages.WaitAndRecover())

	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.FlushTimeout)
	defer flushCancel()
	return p.Flush(flushCtx)
}

// Flush saves the registry to the store. Only the first call saves; later
// calls return the first result.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushOnce.Do(func() {
		snapshots := p.registry.SnapshotAll()

		var catcher panics.Catcher
		catcher.Try(func() {
			p.flushErr = p.store.Save(ctx, snapshots)
		})
		if r := catcher.Recovered(); r != nil {
			p.logger.Error().Str("panic", r.String()).Msg("Panic while saving roster")
			p.flushErr = r.AsError()
			return
		}

		if p.flushErr != nil {
			p.logger.Error().Err(p.flushErr).Int("clans", len(snapshots)).Msg("Failed to save roster")
			return
		}
		p.logger.Info().Int("clans", len(snapshots)).Msg("Roster saved")
	})
	return p.flushErr
}

func (p *Pipeline) logStop(stage string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn().Err(err).Str("stage", stage).Msg("Stage stopped with error")
		return
	}
	p.logger.Debug().Str("stage", stage).Msg("Stage stopped")
}

func (p *Pipeline) logPanic(stage string, r *panics.Recovered) {
	if r != nil {
		p.logger.Error().Str("stage", stage).Str("panic", r.String()).Msg("Recovered panic")
	}
}
