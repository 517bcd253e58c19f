package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/clan"
)

// DefaultRedisKey is the hash holding the roster.
const DefaultRedisKey = "clanwatch:roster"

// Record is one stored clan snapshot.
type Record struct {
	// Snapshot is the full clan state, members included
	Snapshot clan.Snapshot `json:"snapshot"`

	// SavedAt is when the record was written
	SavedAt time.Time `json:"saved_at"`
}

// NewRecord wraps s for storage.
func NewRecord(s clan.Snapshot, savedAt time.Time) Record {
	return Record{Snapshot: s.Clone(), SavedAt: savedAt.UTC()}
}

// Field returns the hash field the record is stored under.
func (r Record) Field() string {
	return r.Snapshot.Key()
}

// Age returns the time since the record was saved.
func (r Record) Age() time.Duration {
	return time.Since(r.SavedAt)
}

// Encode marshals the record.
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal roster record: %w", err)
	}
	return data, nil
}

// DecodeRecord unmarshals and validates a stored record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	s, err := clan.NewSnapshot(clan.Fields{
		Name:         r.Snapshot.Name,
		ClanID:       r.Snapshot.ClanID,
		Tag:          r.Snapshot.Tag,
		IsDisbanded:  r.Snapshot.IsDisbanded,
		OldName:      r.Snapshot.OldName,
		MembersCount: r.Snapshot.MembersCount,
		Description:  r.Snapshot.Description,
		Members:      r.Snapshot.Members,
	})
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	r.Snapshot = s
	return r, nil
}
