package notify

import (
	"context"
	"errors"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanwatch_notifications_total",
	Help: "Total notifications by reason and result",
}, []string{"reason", "result"})

// Tracker marks outstanding work as finished. *sync.WaitGroup satisfies it.
type Tracker interface {
	Done()
}

// Config holds the notifier configuration.
type Config struct {
	ProfileBaseURL string
}

// Notifier delivers change events one at a time.
type Notifier struct {
	config  Config
	sink    Sink
	limiter *ratelimit.Limiter
	pending Tracker
	logger  zerolog.Logger
}

// New creates a notifier. pending may be nil.
func New(cfg Config, sink Sink, limiter *ratelimit.Limiter, pending Tracker, logger zerolog.Logger) (*Notifier, error) {
	if sink == nil {
		return nil, errors.New("notification sink is required")
	}
	if limiter == nil {
		return nil, errors.New("notification rate limiter is required")
	}
	if cfg.ProfileBaseURL == "" {
		cfg.ProfileBaseURL = DefaultProfileBaseURL
	}
	return &Notifier{
		config:  cfg,
		sink:    sink,
		limiter: limiter,
		pending: pending,
		logger:  logger,
	}, nil
}

// Run delivers events until the channel is closed or ctx is done.
func (n *Notifier) Run(ctx context.Context, events <-chan clan.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.Notify(ctx, ev)
		}
	}
}

// Notify delivers a single event. Failures are logged and the event dropped.
func (n *Notifier) Notify(ctx context.Context, ev clan.ChangeEvent) {
	if n.pending != nil {
		defer n.pending.Done()
	}

	msg := FormatMessage(ev, n.config.ProfileBaseURL)
	logger := n.logger.With().
		Str("reason", msg.Reason).
		Int64("member_id", ev.Member.ID).
		Int64("clan_id", ev.Clan.ClanID).
		Logger()

	if err := n.limiter.Acquire(ctx); err != nil {
		notificationsTotal.WithLabelValues(msg.Reason, "cancelled").Inc()
		logger.Debug().Err(err).Msg("Notification dropped on shutdown")
		return
	}

	logger.Debug().Str("member", ev.Member.Name).Msg("Sending notification")
	if err := n.sink.Send(ctx, msg); err != nil {
		notificationsTotal.WithLabelValues(msg.Reason, "failed").Inc()
		logger.Error().Err(err).Str("member", ev.Member.Name).Msg("Failed to send notification")
		return
	}
	notificationsTotal.WithLabelValues(msg.Reason, "sent").Inc()
}
