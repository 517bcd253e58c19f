// Package catalog builds a clan roster from the clan API catalogue: every
// page of clan ids, optionally narrowed by a name search, followed by grouped
// detail lookups.
package catalog

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
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

// ErrFirstPage is returned when page 1 of the catalogue cannot be used to
// size the listing.
var ErrFirstPage = errors.New("catalogue first page unusable")

var responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanwatch_catalog_responses_total",
	Help: "Total catalogue responses by kind and outcome",
}, []string{"kind", "outcome"})

// Fetcher turns requests into responses. *client.Pool satisfies it.
type Fetcher interface {
	Run(ctx context.Context, in <-chan api.Request, out chan<- client.Response) error
}

// Config holds the catalogue configuration.
type Config struct {
	ApplicationID string
	Endpoints     api.Endpoints

	// Search narrows the listing to clans whose name contains it. Empty lists
	// every clan.
	Search string

	// MaxGroupSize bounds the clan ids per detail request.
	MaxGroupSize int
}

// Catalog lists clans through a Fetcher.
type Catalog struct {
	config  Config
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates a catalogue reader.
func New(cfg Config, fetcher Fetcher, logger zerolog.Logger) (*Catalog, error) {
	if fetcher == nil {
		return nil, errors.New("catalog fetcher is required")
	}
	if cfg.MaxGroupSize <= 0 {
		cfg.MaxGroupSize = pagination.DefaultMaxGroupSize
	}
	return &Catalog{config: cfg, fetcher: fetcher, logger: logger}, nil
}

// Discover lists every matching clan and returns their details sorted by
// clan id. Pages and detail groups that fail are logged and skipped; only an
// unusable first page is an error.
func (c *Catalog) Discover(ctx context.Context) ([]clan.Snapshot, error) {
	first, err := c.fetchAll(ctx, []api.Request{c.listRequest(1)})
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("%w: no response", ErrFirstPage)
	}
	env, ok := c.decode(first[0])
	if !ok {
		return nil, ErrFirstPage
	}

	pages := pagination.TotalPages(int(env.Meta.Count), int(env.Meta.Total))
	c.logger.Info().
		Str("search", c.config.Search).
		Int("total", int(env.Meta.Total)).
		Int("pages", pages).
		Msg("Listing clan catalogue")
	if pages == 0 {
		return nil, nil
	}

	ids := c.listIDs(env.Data)
	if pages > 1 {
		reqs := make([]api.Request, 0, pages-1)
		for page := 2; page <= pages; page++ {
			reqs = append(reqs, c.listRequest(page))
		}
		resps, err := c.fetchAll(ctx, reqs)
		if err != nil {
			return nil, err
		}
		for _, resp := range resps {
			if env, ok := c.decode(resp); ok {
				ids = append(ids, c.listIDs(env.Data)...)
			}
		}
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)
	groups := pagination.Partition(ids, c.config.MaxGroupSize)
	c.logger.Info().Int("clans", len(ids)).Int("groups", len(groups)).Msg("Fetching clan details")

	reqs := make([]api.Request, 0, len(groups))
	for _, group := range groups {
		reqs = append(reqs, api.NewDetailsRequest(c.config.Endpoints, c.config.ApplicationID, group))
	}
	resps, err := c.fetchAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	roster := registry.New(nil, c.logger)
	for _, resp := range resps {
		env, ok := c.decode(resp)
		if !ok {
			continue
		}
		for _, s := range c.details(env.Data) {
			roster.Upsert(s)
		}
	}
	snapshots := roster.SnapshotAll()
	slices.SortFunc(snapshots, func(a, b clan.Snapshot) int { return cmp.Compare(a.ClanID, b.ClanID) })
	return snapshots, nil
}

func (c *Catalog) listRequest(page int) api.Request {
	return api.NewListRequest(c.config.Endpoints, c.config.ApplicationID, c.config.Search, page)
}

// fetchAll sends reqs through the fetcher and collects one response per
// delivered request.
func (c *Catalog) fetchAll(ctx context.Context, reqs []api.Request) ([]client.Response, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan api.Request)
	out := make(chan client.Response)

	var runErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		defer close(out)
		if err := c.fetcher.Run(runCtx, in, out); err != nil {
			runErr = err
			cancel()
		}
	})
	wg.Go(func() {
		defer close(in)
		for _, req := range reqs {
			select {
			case in <- req:
			case <-runCtx.Done():
				return
			}
		}
	})

	resps := make([]client.Response, 0, len(reqs))
	for resp := range out {
		resps = append(resps, resp)
	}
	wg.Wait()

	if runErr != nil {
		return nil, fmt.Errorf("fetch catalogue: %w", runErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resps, nil
}

// decode validates a response envelope the same way the watcher does and
// reports false for anything that carries no usable data.
func (c *Catalog) decode(resp client.Response) (*api.Envelope, bool) {
	kind := string(resp.Request.Kind)
	logger := c.logger.With().Str("kind", kind).Int("page", resp.Request.Page).Logger()

	if resp.Empty() {
		responsesTotal.WithLabelValues(kind, "empty").Inc()
		logger.Error().Msg("Empty response")
		return nil, false
	}
	env, err := api.DecodeEnvelope(resp.Body)
	if err != nil {
		responsesTotal.WithLabelValues(kind, "malformed").Inc()
		logger.Error().Err(err).Msg("Malformed response")
		return nil, false
	}
	if env.Status != api.StatusOK {
		responsesTotal.WithLabelValues(kind, "upstream_error").Inc()
		logger.Error().Str("upstream_error", env.Error.String()).Msg("Query failed")
		return nil, false
	}
	if env.Meta == nil {
		responsesTotal.WithLabelValues(kind, "malformed").Inc()
		logger.Error().Msg("Malformed response: missing meta")
		return nil, false
	}
	responsesTotal.WithLabelValues(kind, "ok").Inc()
	return env, true
}

func (c *Catalog) listIDs(data json.RawMessage) []int64 {
	var entries []api.SearchEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Error().Err(err).Msg("Malformed catalogue page")
		return nil
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.ClanID > 0 {
			ids = append(ids, int64(e.ClanID))
		}
	}
	return ids
}

func (c *Catalog) details(data json.RawMessage) []clan.Snapshot {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Error().Err(err).Msg("Malformed details data")
		return nil
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snapshots := make([]clan.Snapshot, 0, len(keys))
	for _, key := range keys {
		raw := entries[key]
		if len(raw) == 0 || string(raw) == "null" {
			c.logger.Warn().Str("clan_id", key).Msg("No details returned for clan")
			continue
		}
		var d api.ClanDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			c.logger.Error().Err(err).Str("clan_id", key).Msg("Error parsing clan details")
			continue
		}
		s, err := d.Snapshot(key)
		if err != nil {
			c.logger.Error().Err(err).Str("clan_id", key).Msg("Error parsing clan details")
			continue
		}
		snapshots = append(snapshots, s)
	}
	return snapshots
}
