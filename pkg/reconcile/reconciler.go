package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/Sternrassler/clanwatch/pkg/client"
	"github.com/Sternrassler/clanwatch/pkg/pagination"
	"github.com/Sternrassler/clanwatch/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Response outcomes recorded in clanwatch_reconcile_responses_total.
const (
	OutcomeEmpty         = "empty"
	OutcomeMalformed     = "malformed"
	OutcomeUpstreamError = "upstream_error"
	OutcomeNoResults     = "no_results"
	OutcomeDispatched    = "dispatched"
)

var (
	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_reconcile_responses_total",
		Help: "Total responses handled by the reconciler by kind and outcome",
	}, []string{"kind", "outcome"})

	entriesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_reconcile_entries_skipped_total",
		Help: "Total response entries skipped by kind and reason",
	}, []string{"kind", "reason"})

	followUpPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clanwatch_reconcile_follow_up_pages_total",
		Help: "Total search pages scheduled from a first page",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_reconcile_events_total",
		Help: "Total change events produced by reason",
	}, []string{"reason"})
)

// Registry is the registry view the reconciler mutates.
type Registry interface {
	Resolve(searchedName string, candidate clan.Snapshot) registry.ResolveOutcome
	Refresh(next clan.Snapshot) ([]clan.ChangeEvent, error)
}

// Tracker counts outstanding work. *sync.WaitGroup satisfies it.
type Tracker interface {
	Add(delta int)
	Done()
}

// Config holds the reconciler configuration.
type Config struct {
	// ApplicationID and Endpoints build follow-up search pages.
	ApplicationID string
	Endpoints     api.Endpoints
}

// Reconciler consumes fetched responses.
type Reconciler struct {
	config   Config
	registry Registry
	requests chan<- api.Request
	events   chan<- clan.ChangeEvent
	pending  Tracker
	logger   zerolog.Logger

	followUps conc.WaitGroup
}

// New creates a reconciler. Follow-up pages go to requests and change events
// to events. pending may be nil; when set, each handled response is marked
// done only after the work it produced has been registered.
func New(cfg Config, reg Registry, requests chan<- api.Request, events chan<- clan.ChangeEvent, pending Tracker, logger zerolog.Logger) (*Reconciler, error) {
	if reg == nil {
		return nil, errors.New("reconciler registry is required")
	}
	if requests == nil || events == nil {
		return nil, errors.New("reconciler request and event channels are required")
	}
	return &Reconciler{
		config:   cfg,
		registry: reg,
		requests: requests,
		events:   events,
		pending:  pending,
		logger:   logger,
	}, nil
}

// Run handles responses until in is closed or ctx is done, then waits for
// scheduled follow-up pages to be delivered or abandoned.
func (r *Reconciler) Run(ctx context.Context, in <-chan client.Response) error {
	defer r.followUps.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, resp)
		}
	}
}

// Handle validates and applies a single response and returns its outcome.
func (r *Reconciler) Handle(ctx context.Context, resp client.Response) string {
	if r.pending != nil {
		defer r.pending.Done()
	}

	outcome := r.handle(ctx, resp)
	responsesTotal.WithLabelValues(string(resp.Request.Kind), outcome).Inc()
	return outcome
}

func (r *Reconciler) handle(ctx context.Context, resp client.Response) string {
	req := resp.Request
	logger := r.logger.With().
		Str("kind", string(req.Kind)).
		Str("endpoint", req.Endpoint).
		Logger()
	if req.Kind == api.KindSearch {
		logger = logger.With().Str("clan", req.SearchedName).Int("page", req.Page).Logger()
	}

	if resp.Empty() {
		logger.Debug().Msg("No data received, discarding response")
		return OutcomeEmpty
	}

	env, err := api.DecodeEnvelope(resp.Body)
	if err != nil {
		logger.Error().Err(err).Bytes("payload", resp.Body).Msg("Malformed response")
		return OutcomeMalformed
	}

	if env.Status != api.StatusOK {
		logger.Error().
			Str("status", env.Status).
			Str("upstream_error", env.Error.String()).
			Msg("Clan API returned an error")
		return OutcomeUpstreamError
	}

	if env.Meta == nil {
		logger.Error().Bytes("payload", resp.Body).Msg("Malformed response: missing meta")
		return OutcomeMalformed
	}

	count := int(env.Meta.Count)
	if count == 0 {
		logger.Info().Msg("No results")
		return OutcomeNoResults
	}

	switch req.Kind {
	case api.KindSearch:
		r.scheduleFollowUps(ctx, logger, req, count, int(env.Meta.Total))
		r.applySearch(logger, req.SearchedName, env.Data)
	case api.KindDetails:
		r.applyDetails(ctx, logger, env.Data)
	default:
		logger.Error().Msg("Unknown request kind")
		return OutcomeMalformed
	}
	return OutcomeDispatched
}

// scheduleFollowUps enqueues pages 2..N of a first search page. The sends run
// in a separate goroutine so the reconciler never blocks on the request
// channel it indirectly drains.
func (r *Reconciler) scheduleFollowUps(ctx context.Context, logger zerolog.Logger, req api.Request, count, total int) {
	pages := pagination.FollowUpPages(req.Page, count, total)
	if len(pages) == 0 {
		return
	}

	if r.pending != nil {
		r.pending.Add(len(pages))
	}
	followUpPages.Add(float64(len(pages)))
	logger.Info().
		Int("count", count).
		Int("total", total).
		Ints("pages", pages).
		Msg("Scheduling follow-up search pages")

	r.followUps.Go(func() {
		for i, page := range pages {
			next := api.NewSearchRequest(r.config.Endpoints, r.config.ApplicationID, req.SearchedName, page)
			select {
			case r.requests <- next:
			case <-ctx.Done():
				if r.pending != nil {
					r.pending.Add(-(len(pages) - i))
				}
				return
			}
		}
	})
}

// applySearch resolves every entry of a search result.
func (r *Reconciler) applySearch(logger zerolog.Logger, searchedName string, data json.RawMessage) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		entriesSkipped.WithLabelValues(string(api.KindSearch), "malformed").Inc()
		logger.Error().Err(err).RawJSON("payload", safeJSON(data)).Msg("Malformed search data")
		return
	}

	for _, raw := range entries {
		candidate, err := parseSearchEntry(raw)
		if err != nil {
			entriesSkipped.WithLabelValues(string(api.KindSearch), "malformed").Inc()
			logger.Warn().Err(err).RawJSON("payload", safeJSON(raw)).Msg("Skipping search entry")
			continue
		}

		outcome := r.registry.Resolve(searchedName, candidate)
		logger.Debug().
			Int64("clan_id", candidate.ClanID).
			Str("found", candidate.Name).
			Str("outcome", outcome.String()).
			Msg("Search entry applied")
	}
}

// applyDetails refreshes every clan of a detail result and forwards the
// resulting change events.
func (r *Reconciler) applyDetails(ctx context.Context, logger zerolog.Logger, data json.RawMessage) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		entriesSkipped.WithLabelValues(string(api.KindDetails), "malformed").Inc()
		logger.Error().Err(err).RawJSON("payload", safeJSON(data)).Msg("Malformed details data")
		return
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := entries[key]
		entryLogger := logger.With().Str("clan_id", key).Logger()

		if isNull(raw) {
			entriesSkipped.WithLabelValues(string(api.KindDetails), "null").Inc()
			entryLogger.Warn().Msg("No details returned for clan")
			continue
		}

		next, err := parseDetailsEntry(key, raw)
		if err != nil {
			entriesSkipped.WithLabelValues(string(api.KindDetails), "malformed").Inc()
			entryLogger.Warn().Err(err).RawJSON("payload", safeJSON(raw)).Msg("Skipping clan details")
			continue
		}

		events, err := r.registry.Refresh(next)
		if err != nil {
			if errors.Is(err, registry.ErrNotTracked) {
				entriesSkipped.WithLabelValues(string(api.KindDetails), "not_tracked").Inc()
				entryLogger.Warn().Err(err).Str("clan", next.Name).Msg("Details for a clan that is not tracked")
				continue
			}
			entryLogger.Error().Err(err).Msg("Refresh failed")
			continue
		}

		if len(events) > 0 {
			entryLogger.Info().Str("clan", next.Name).Int("events", len(events)).Msg("Membership changes detected")
		}
		if !r.emit(ctx, events) {
			return
		}
	}
}

// emit forwards events, registering each as pending work first. It reports
// false when ctx ended before every event was delivered.
func (r *Reconciler) emit(ctx context.Context, events []clan.ChangeEvent) bool {
	for i, event := range events {
		if r.pending != nil {
			r.pending.Add(1)
		}
		select {
		case r.events <- event:
			eventsTotal.WithLabelValues(event.Kind.Reason()).Inc()
		case <-ctx.Done():
			if r.pending != nil {
				r.pending.Add(-1)
			}
			r.logger.Warn().
				Int("dropped", len(events)-i).
				Msg("Shutdown before all change events were delivered")
			return false
		}
	}
	return true
}

func parseSearchEntry(raw json.RawMessage) (clan.Snapshot, error) {
	var entry api.SearchEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return clan.Snapshot{}, fmt.Errorf("decode search entry: %w", err)
	}
	if entry.ClanID <= 0 {
		return clan.Snapshot{}, fmt.Errorf("%w: search entry %q without clan_id", clan.ErrInvalidSnapshot, entry.Name)
	}
	return clan.NewSnapshot(clan.Fields{
		Name:   entry.Name,
		ClanID: int64(entry.ClanID),
		Tag:    entry.Tag,
	})
}

func parseDetailsEntry(key string, raw json.RawMessage) (clan.Snapshot, error) {
	var details api.ClanDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return clan.Snapshot{}, fmt.Errorf("decode clan details: %w", err)
	}
	return details.Snapshot(key)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// safeJSON returns raw when it is valid JSON, otherwise raw quoted as a JSON
// string so it can be attached to a log line.
func safeJSON(raw json.RawMessage) []byte {
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
