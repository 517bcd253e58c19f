//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_RosterSurvivesRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	before := []clan.Snapshot{
		{Name: "Knights", ClanID: 7, Members: []clan.Member{{Name: "alice", ID: 1}, {Name: "bob", ID: 2}}},
		{Name: "Ravens", ClanID: 9, Members: []clan.Member{}},
		{Name: "Pending"},
	}

	if err := NewRedisStore(redisClient, "", zerolog.Nop()).Save(ctx, before); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A second store on the same hash stands in for a restarted process.
	after, err := NewRedisStore(redisClient, "", zerolog.Nop()).Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("loaded %d clans, want %d", len(after), len(before))
	}

	byKey := make(map[string]clan.Snapshot, len(after))
	for _, s := range after {
		byKey[s.Key()] = s
	}

	if got := byKey["id:7"]; len(got.Members) != 2 {
		t.Errorf("Knights roster = %v, want 2 members", got.Members)
	}
	if got := byKey["id:9"]; got.Members == nil || len(got.Members) != 0 {
		t.Errorf("Ravens roster = %#v, want known empty roster", got.Members)
	}
	if got := byKey["name:Pending"]; got.Members != nil || got.Resolved() {
		t.Errorf("Pending = %+v, want unresolved with unknown roster", got)
	}
}
