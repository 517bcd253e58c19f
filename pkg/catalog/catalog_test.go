package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/client"
	"github.com/rs/zerolog"
)

var endpoints = api.NewEndpoints("http://clans.test/wot")

// fakeFetcher answers each request with respond and records what it saw.
type fakeFetcher struct {
	respond func(api.Request) string
	err     error

	mu   sync.Mutex
	seen []api.Request
}

func (f *fakeFetcher) Run(ctx context.Context, in <-chan api.Request, out chan<- client.Response) error {
	if f.err != nil {
		return f.err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-in:
			if !ok {
				return nil
			}
			f.mu.Lock()
			f.seen = append(f.seen, req)
			f.mu.Unlock()
			select {
			case out <- client.Response{Request: req, Body: []byte(f.respond(req))}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *fakeFetcher) requests(kind api.Kind) []api.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []api.Request
	for _, req := range f.seen {
		if req.Kind == kind {
			out = append(out, req)
		}
	}
	return out
}

func listBody(total int, ids ...int64) string {
	entries := make([]string, len(ids))
	for i, id := range ids {
		entries[i] = fmt.Sprintf(`{"clan_id":%d}`, id)
	}
	return fmt.Sprintf(`{"status":"ok","meta":{"count":%d,"total":%d},"data":[%s]}`, len(ids), total, strings.Join(entries, ","))
}

func detailsBody(ids []int64) string {
	entries := make([]string, len(ids))
	for i, id := range ids {
		entries[i] = fmt.Sprintf(`"%d":{"name":"clan-%d","clan_id":%d,"members":[{"account_name":"m%d","account_id":%d}]}`, id, id, id, id, id)
	}
	return fmt.Sprintf(`{"status":"ok","meta":{"count":%d},"data":{%s}}`, len(ids), strings.Join(entries, ","))
}

// catalogue serves five clans over pages of two ids.
func catalogue(req api.Request) string {
	switch req.Kind {
	case api.KindList:
		switch req.Page {
		case 1:
			return listBody(5, 30, 10)
		case 2:
			return listBody(5, 20, 10)
		default:
			return listBody(5, 40, 50)
		}
	case api.KindDetails:
		return detailsBody(req.ClanIDs)
	}
	return ""
}

func newCatalog(t *testing.T, cfg Config, f Fetcher) *Catalog {
	t.Helper()
	cfg.ApplicationID = "app-id"
	cfg.Endpoints = endpoints
	c, err := New(cfg, f, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresFetcher(t *testing.T) {
	if _, err := New(Config{}, nil, zerolog.Nop()); err == nil {
		t.Error("expected an error without a fetcher")
	}
}

func TestDiscover_AllPagesAndGroups(t *testing.T) {
	f := &fakeFetcher{respond: catalogue}
	c := newCatalog(t, Config{MaxGroupSize: 2}, f)

	got, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	var ids []int64
	for _, s := range got {
		ids = append(ids, s.ClanID)
		if len(s.Members) != 1 {
			t.Errorf("clan %d has %d members, want 1", s.ClanID, len(s.Members))
		}
	}
	if want := []int64{10, 20, 30, 40, 50}; !reflect.DeepEqual(ids, want) {
		t.Errorf("clan ids = %v, want %v", ids, want)
	}

	if n := len(f.requests(api.KindList)); n != 3 {
		t.Errorf("%d list requests, want 3", n)
	}
	groups := f.requests(api.KindDetails)
	if len(groups) != 3 {
		t.Fatalf("%d detail requests, want 3", len(groups))
	}
	for _, g := range groups {
		if len(g.ClanIDs) > 2 {
			t.Errorf("detail group %v exceeds the group size", g.ClanIDs)
		}
	}
}

func TestDiscover_SearchFilter(t *testing.T) {
	f := &fakeFetcher{respond: catalogue}
	c := newCatalog(t, Config{Search: "Knights"}, f)

	if _, err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	for _, req := range f.requests(api.KindList) {
		if req.Params["search"] != "Knights" {
			t.Errorf("page %d search = %q, want Knights", req.Page, req.Params["search"])
		}
		if req.Params["fields"] != api.ListFields {
			t.Errorf("page %d fields = %q", req.Page, req.Params["fields"])
		}
	}
}

func TestDiscover_SkipsFailedPagesAndEntries(t *testing.T) {
	f := &fakeFetcher{respond: func(req api.Request) string {
		switch {
		case req.Kind == api.KindList && req.Page == 1:
			return listBody(4, 1, 2)
		case req.Kind == api.KindList:
			return `{"status":"error","error":{"code":504,"message":"SOURCE_NOT_AVAILABLE"}}`
		default:
			return `{"status":"ok","meta":{"count":2},"data":{"1":{"name":"","clan_id":1},"2":{"name":"Ravens","clan_id":2,"members":[]}}}`
		}
	}}
	c := newCatalog(t, Config{}, f)

	got, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Ravens" {
		t.Errorf("Discover() = %+v, want only Ravens", got)
	}
}

func TestDiscover_FirstPageErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"upstream error", `{"status":"error","error":{"code":407,"message":"INVALID_APPLICATION_ID"}}`},
		{"missing meta", `{"status":"ok","data":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCatalog(t, Config{}, &fakeFetcher{respond: func(api.Request) string { return tt.body }})
			if _, err := c.Discover(context.Background()); !errors.Is(err, ErrFirstPage) {
				t.Errorf("Discover() error = %v, want ErrFirstPage", err)
			}
		})
	}
}

func TestDiscover_NoClans(t *testing.T) {
	f := &fakeFetcher{respond: func(api.Request) string { return listBody(0) }}
	c := newCatalog(t, Config{Search: "nobody"}, f)

	got, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Discover() = %+v, want none", got)
	}
	if n := len(f.requests(api.KindDetails)); n != 0 {
		t.Errorf("%d detail requests for an empty listing, want 0", n)
	}
}

func TestDiscover_FetcherError(t *testing.T) {
	boom := errors.New("no workers")
	c := newCatalog(t, Config{}, &fakeFetcher{err: boom})

	if _, err := c.Discover(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Discover() error = %v, want %v", err, boom)
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCatalog(t, Config{}, &fakeFetcher{respond: catalogue})
	if _, err := c.Discover(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Discover() error = %v, want context.Canceled", err)
	}
}
