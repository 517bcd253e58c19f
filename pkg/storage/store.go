package storage

import (
	"context"
	"errors"

	"github.com/Sternrassler/clanwatch/pkg/clan"
)

var (
	// ErrEmptyRoster is returned by Save when asked to persist no clans.
	ErrEmptyRoster = errors.New("refusing to store empty roster")

	// ErrInvalidRecord indicates a stored record could not be decoded.
	ErrInvalidRecord = errors.New("invalid roster record")
)

// Store persists the clan roster.
type Store interface {
	Load(ctx context.Context) ([]clan.Snapshot, error)
	Save(ctx context.Context, snapshots []clan.Snapshot) error
}

// Backend names accepted by the configuration.
const (
	BackendCSV   = "csv"
	BackendRedis = "redis"
)
