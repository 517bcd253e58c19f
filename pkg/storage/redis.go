package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps the roster in a Redis hash, one field per clan.
type RedisStore struct {
	redis  *redis.Client
	key    string
	logger zerolog.Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewRedisStore creates a store using the hash at key. An empty key falls
// back to DefaultRedisKey.
func NewRedisStore(redisClient *redis.Client, key string, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		redis:  redisClient,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the hash key.
func (s *RedisStore) Key() string {
	return s.key
}

// Load reads every record of the hash. Undecodable records are logged and
// skipped. A missing hash yields an empty roster.
func (s *RedisStore) Load(ctx context.Context) ([]clan.Snapshot, error) {
	fields, err := s.redis.HGetAll(ctx, s.key).Result()
	observe(BackendRedis, "load", err)
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	snapshots := make([]clan.Snapshot, 0, len(fields))
	var oldest time.Duration
	for _, field := range names {
		rec, err := DecodeRecord([]byte(fields[field]))
		if err != nil {
			RecordsSkipped.WithLabelValues(BackendRedis).Inc()
			s.logger.Error().Err(err).Str("field", field).Msg("Undecodable roster record, skipping")
			continue
		}
		snapshots = append(snapshots, rec.Snapshot)
		oldest = max(oldest, rec.Age())
	}

	RosterSize.WithLabelValues(BackendRedis).Set(float64(len(snapshots)))
	s.logger.Info().
		Str("key", s.key).
		Int("clans", len(snapshots)).
		Dur("oldest_record_age", oldest).
		Msg("Roster loaded")
	return snapshots, nil
}

// Save replaces the hash with snapshots in a single MULTI/EXEC transaction.
// An empty roster is refused and the hash left untouched.
func (s *RedisStore) Save(ctx context.Context, snapshots []clan.Snapshot) (err error) {
	defer func() { observe(BackendRedis, "save", err) }()

	if len(snapshots) == 0 {
		return ErrEmptyRoster
	}

	savedAt := s.now()
	values := make(map[string]any, len(snapshots))
	for _, sn := range snapshots {
		rec := NewRecord(sn, savedAt)
		data, err := rec.Encode()
		if err != nil {
			return err
		}
		values[rec.Field()] = data
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save roster: %w", err)
	}

	RosterSize.WithLabelValues(BackendRedis).Set(float64(len(snapshots)))
	s.logger.Info().Str("key", s.key).Int("clans", len(snapshots)).Msg("Roster saved")
	return nil
}
