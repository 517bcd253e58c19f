// Package registry holds the process-wide table of latest clan snapshots.
//
// The map is only reachable through lock-guarded methods, so producers
// enumerating the registry and reconcilers mutating it never race.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrNotTracked is returned by Refresh for a clan id that is not in the registry.
var ErrNotTracked = errors.New("clan not tracked")

var registryClans = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "clanwatch_registry_clans",
	Help: "Number of clans in the registry by resolution state",
}, []string{"state"})

// ResolveOutcome reports what Resolve did with a candidate.
type ResolveOutcome int

const (
	// Resolved means the searched clan received its clan_id.
	Resolved ResolveOutcome = iota + 1

	// Merged means the candidate matched an entry that was already tracked.
	Merged

	// Discovered means the candidate was added as a new clan.
	Discovered
)

func (o ResolveOutcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Merged:
		return "merged"
	case Discovered:
		return "discovered"
	default:
		return "unknown"
	}
}

// Registry maps clan identity to its latest snapshot.
type Registry struct {
	mu     sync.Mutex
	clans  map[string]*clan.Snapshot
	logger zerolog.Logger
}

// New builds a registry from persisted snapshots. Duplicate identities collapse
// to the last one seen.
func New(snapshots []clan.Snapshot, logger zerolog.Logger) *Registry {
	r := &Registry{
		clans:  make(map[string]*clan.Snapshot, len(snapshots)),
		logger: logger,
	}
	for _, s := range snapshots {
		key := s.Key()
		if prev, exists := r.clans[key]; exists && clan.SameIdentity(*prev, s) {
			logger.Warn().Str("key", key).Str("clan", s.Name).Msg("Duplicate clan in roster, keeping last entry")
		}
		c := s.Clone()
		r.clans[key] = &c
	}
	r.updateGauges()
	return r
}

// Resolve records the result of a name search for searchedName.
func (r *Registry) Resolve(searchedName string, candidate clan.Snapshot) ResolveOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGauges()

	if candidate.Name == searchedName && candidate.Resolved() {
		if pending, ok := r.clans[clan.NameKey(searchedName)]; ok {
			delete(r.clans, clan.NameKey(searchedName))
			if tracked, ok := r.clans[candidate.Key()]; ok && clan.SameIdentity(*tracked, candidate) {
				r.mergeSearch(tracked, candidate)
				return Resolved
			}
			pending.ClanID = candidate.ClanID
			r.mergeSearch(pending, candidate)
			return Resolved
		}
	}

	if existing, ok := r.clans[candidate.Key()]; ok && clan.SameIdentity(*existing, candidate) {
		r.mergeSearch(existing, candidate)
		return Merged
	}

	c := candidate.Clone()
	r.clans[c.Key()] = &c
	return Discovered
}

// mergeSearch folds the fields carried by a search result into existing and
// stores it under its current key. Callers hold r.mu.
func (r *Registry) mergeSearch(existing *clan.Snapshot, candidate clan.Snapshot) {
	if candidate.Name != "" {
		existing.Name = candidate.Name
	}
	if candidate.Tag != "" {
		existing.Tag = candidate.Tag
	}
	r.clans[existing.Key()] = existing
}

// Refresh reconciles next against the tracked snapshot with the same clan_id,
// stores the merged result and returns the change events. The diff and the
// update happen under a single lock.
func (r *Registry) Refresh(next clan.Snapshot) ([]clan.ChangeEvent, error) {
	if !next.Resolved() {
		return nil, fmt.Errorf("refresh clan %q: %w", next.Name, ErrNotTracked)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.clans[next.Key()]
	if !ok {
		return nil, fmt.Errorf("refresh clan_id %d: %w", next.ClanID, ErrNotTracked)
	}

	events := clan.Diff(*prev, next)
	prev.Merge(next)
	return events, nil
}

// Upsert stores s, replacing any tracked snapshot with the same identity.
func (r *Registry) Upsert(s clan.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGauges()

	c := s.Clone()
	r.clans[c.Key()] = &c
}

// SnapshotAll returns deep copies of every tracked clan, ordered by key.
func (r *Registry) SnapshotAll() []clan.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.sortedKeysLocked()
	out := make([]clan.Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.clans[k].Clone())
	}
	return out
}

// UnresolvedNames returns the names of clans still waiting for a clan_id.
func (r *Registry) UnresolvedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, k := range r.sortedKeysLocked() {
		if s := r.clans[k]; !s.Resolved() {
			names = append(names, s.Name)
		}
	}
	return names
}

// ResolvedIDs returns the clan ids of all resolved clans in ascending order.
func (r *Registry) ResolvedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, s := range r.clans {
		if s.Resolved() {
			ids = append(ids, s.ClanID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of tracked clans.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clans)
}

func (r *Registry) sortedKeysLocked() []string {
	keys := make([]string, 0, len(r.clans))
	for k := range r.clans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) updateGauges() {
	var resolved, unresolved int
	for _, s := range r.clans {
		if s.Resolved() {
			resolved++
		} else {
			unresolved++
		}
	}
	registryClans.WithLabelValues("resolved").Set(float64(resolved))
	registryClans.WithLabelValues("unresolved").Set(float64(unresolved))
}
