package registry

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/rs/zerolog"
)

var (
	alice = clan.Member{Name: "Alice", ID: 1}
	bob   = clan.Member{Name: "Bob", ID: 2}
)

func newTestRegistry(snapshots ...clan.Snapshot) *Registry {
	return New(snapshots, zerolog.Nop())
}

// lookup returns the tracked snapshot with clanID from SnapshotAll.
func lookup(t *testing.T, r *Registry, clanID int64) clan.Snapshot {
	t.Helper()
	for _, s := range r.SnapshotAll() {
		if s.ClanID == clanID {
			return s
		}
	}
	t.Fatalf("clan_id %d not tracked", clanID)
	return clan.Snapshot{}
}

func TestNew_CollapsesDuplicates(t *testing.T) {
	r := newTestRegistry(
		clan.Snapshot{Name: "A", ClanID: 1},
		clan.Snapshot{Name: "A renamed", ClanID: 1},
		clan.Snapshot{Name: "B"},
		clan.Snapshot{Name: " B "},
	)

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if got := lookup(t, r, 1); got.Name != "A renamed" {
		t.Errorf("Name = %q, want the last duplicate", got.Name)
	}
}

func TestResolve_SearchedName(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "Knights"})

	if outcome := r.Resolve("Knights", clan.Snapshot{Name: "Knights", ClanID: 500}); outcome != Resolved {
		t.Errorf("Resolve() = %s, want resolved", outcome)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if names := r.UnresolvedNames(); len(names) != 0 {
		t.Errorf("UnresolvedNames() = %v, want none", names)
	}
	if ids := r.ResolvedIDs(); !reflect.DeepEqual(ids, []int64{500}) {
		t.Errorf("ResolvedIDs() = %v, want [500]", ids)
	}
}

func TestResolve_SearchedNameAlreadyTrackedByID(t *testing.T) {
	r := newTestRegistry(
		clan.Snapshot{Name: "Knights"},
		clan.Snapshot{Name: "Knights", ClanID: 500, Members: []clan.Member{alice}},
	)

	if outcome := r.Resolve("Knights", clan.Snapshot{Name: "Knights", ClanID: 500}); outcome != Resolved {
		t.Errorf("Resolve() = %s, want resolved", outcome)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if got := lookup(t, r, 500); len(got.Members) != 1 {
		t.Errorf("tracked roster lost on resolution: %+v", got.Members)
	}
}

func TestResolve_SubstringMatchesAreDiscovered(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "Knights"})

	steps := []struct {
		candidate clan.Snapshot
		want      ResolveOutcome
	}{
		{clan.Snapshot{Name: "Knights", ClanID: 1}, Resolved},
		{clan.Snapshot{Name: "Knights Templar", ClanID: 2}, Discovered},
		{clan.Snapshot{Name: "Knights Templar", ClanID: 2}, Merged},
	}
	for _, step := range steps {
		if got := r.Resolve("Knights", step.candidate); got != step.want {
			t.Errorf("Resolve(%q, %d) = %s, want %s", "Knights", step.candidate.ClanID, got, step.want)
		}
	}

	if ids := r.ResolvedIDs(); !reflect.DeepEqual(ids, []int64{1, 2}) {
		t.Errorf("ResolvedIDs() = %v, want [1 2]", ids)
	}
}

func TestResolve_MergeKeepsIdentityAcrossRename(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "Knights", ClanID: 7, Members: []clan.Member{alice}})

	if got := r.Resolve("Templars", clan.Snapshot{Name: "Templars", ClanID: 7, Tag: "TMP"}); got != Merged {
		t.Fatalf("Resolve() = %s, want merged", got)
	}

	got := lookup(t, r, 7)
	if got.Name != "Templars" || got.Tag != "TMP" {
		t.Errorf("merged snapshot = %+v", got)
	}
	if len(got.Members) != 1 {
		t.Errorf("search merge dropped the roster: %+v", got.Members)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRefresh_EmitsEventsAndUpdates(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "A", ClanID: 1, Members: []clan.Member{alice, bob}})

	events, err := r.Refresh(clan.Snapshot{Name: "A", ClanID: 1, MembersCount: 1, Members: []clan.Member{alice}})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Refresh() returned %d events, want 1", len(events))
	}
	if events[0].Kind != clan.KindLeft || events[0].Member.ID != bob.ID {
		t.Errorf("unexpected event %+v", events[0])
	}

	got := lookup(t, r, 1)
	if len(got.Members) != 1 || got.MembersCount != 1 {
		t.Errorf("snapshot not updated: %+v", got)
	}

	events, err = r.Refresh(clan.Snapshot{Name: "A", ClanID: 1, Members: []clan.Member{alice}})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unchanged roster emitted %d events", len(events))
	}
}

func TestRefresh_DisbandedEventsSurviveLaterUpdates(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "A", ClanID: 1, Members: []clan.Member{alice, bob}})

	events, err := r.Refresh(clan.Snapshot{Name: "A", ClanID: 1, IsDisbanded: true, Members: []clan.Member{alice, bob}})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Refresh() returned %d events, want 2", len(events))
	}

	if _, err := r.Refresh(clan.Snapshot{Name: "Renamed", ClanID: 1, IsDisbanded: true, Members: []clan.Member{}}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	for _, ev := range events {
		if ev.Kind != clan.KindDisbanded {
			t.Errorf("Kind = %s, want Disbanded", ev.Kind)
		}
		if ev.Clan.Name != "A" || len(ev.Clan.Members) != 2 {
			t.Errorf("event clan was modified by a later refresh: %+v", ev.Clan)
		}
	}
}

func TestRefresh_NotTracked(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "A", ClanID: 1})

	if _, err := r.Refresh(clan.Snapshot{Name: "B", ClanID: 2}); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Refresh(untracked id) error = %v, want ErrNotTracked", err)
	}
	if _, err := r.Refresh(clan.Snapshot{Name: "A"}); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Refresh(unresolved) error = %v, want ErrNotTracked", err)
	}
}

func TestUpsert_ReplacesSameIdentity(t *testing.T) {
	r := newTestRegistry()

	r.Upsert(clan.Snapshot{Name: "A", ClanID: 1, Members: []clan.Member{alice}})
	r.Upsert(clan.Snapshot{Name: "A2", ClanID: 1, Members: []clan.Member{alice, bob}})
	r.Upsert(clan.Snapshot{Name: "Pending"})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	got := lookup(t, r, 1)
	if got.Name != "A2" || len(got.Members) != 2 {
		t.Errorf("Upsert did not replace the snapshot: %+v", got)
	}
	if names := r.UnresolvedNames(); !reflect.DeepEqual(names, []string{"Pending"}) {
		t.Errorf("UnresolvedNames() = %v", names)
	}
}

func TestSnapshotAll_ReturnsCopies(t *testing.T) {
	r := newTestRegistry(clan.Snapshot{Name: "A", ClanID: 1, Members: []clan.Member{alice}})

	all := r.SnapshotAll()
	if len(all) != 1 {
		t.Fatalf("SnapshotAll() returned %d snapshots, want 1", len(all))
	}
	all[0].Members[0].Name = "mutated"

	if got := lookup(t, r, 1); got.Members[0].Name != "Alice" {
		t.Errorf("SnapshotAll shares member storage with the registry")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			r.Upsert(clan.Snapshot{Name: "clan", ClanID: id, Members: []clan.Member{}})
			_, _ = r.Refresh(clan.Snapshot{Name: "clan", ClanID: id, Members: []clan.Member{alice}})
		}(int64(i))
		go func() {
			defer wg.Done()
			_ = r.SnapshotAll()
			_ = r.ResolvedIDs()
		}()
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
}
