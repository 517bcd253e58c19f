package clan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSnapshot is returned when clan fields fail validation.
var ErrInvalidSnapshot = errors.New("invalid clan snapshot")

// Snapshot is a point-in-time copy of a clan's remote state.
type Snapshot struct {
	Name         string   `json:"name"`
	ClanID       int64    `json:"clan_id"`
	Tag          string   `json:"tag,omitempty"`
	IsDisbanded  bool     `json:"is_clan_disbanded"`
	OldName      string   `json:"old_name,omitempty"`
	MembersCount int64    `json:"members_count"`
	Description  string   `json:"description,omitempty"`
	Members      []Member `json:"members"`
}

// Fields holds the raw inputs for NewSnapshot. A nil Members slice marks the
// roster as unknown.
type Fields struct {
	Name         string
	ClanID       int64
	Tag          string
	IsDisbanded  bool
	OldName      string
	MembersCount int64
	Description  string
	Members      []Member
}

// NewSnapshot validates f and builds a Snapshot from it.
func NewSnapshot(f Fields) (Snapshot, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Snapshot{}, fmt.Errorf("%w: empty clan name (clan_id %d)", ErrInvalidSnapshot, f.ClanID)
	}
	if f.ClanID < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative clan_id %d", ErrInvalidSnapshot, f.ClanID)
	}

	s := Snapshot{
		Name:         name,
		ClanID:       f.ClanID,
		Tag:          strings.TrimSpace(f.Tag),
		IsDisbanded:  f.IsDisbanded,
		OldName:      strings.TrimSpace(f.OldName),
		MembersCount: f.MembersCount,
		Description:  strings.TrimSpace(f.Description),
	}

	if f.Members != nil {
		s.Members = make([]Member, 0, len(f.Members))
		for _, m := range f.Members {
			member, err := NewMember(m.Name, m.ID, m.Role)
			if err != nil {
				return Snapshot{}, fmt.Errorf("clan %q: %w", name, err)
			}
			s.Members = append(s.Members, member)
		}
	}

	return s, nil
}

// Resolved reports whether the clan's numeric identity is known.
func (s Snapshot) Resolved() bool {
	return s.ClanID != 0
}

// HasRoster reports whether the member list is known.
func (s Snapshot) HasRoster() bool {
	return s.Members != nil
}

// Key returns the registry identity of the snapshot.
func (s Snapshot) Key() string {
	if s.Resolved() {
		return "id:" + strconv.FormatInt(s.ClanID, 10)
	}
	return NameKey(s.Name)
}

// NameKey returns the registry identity of an unresolved clan called name.
func NameKey(name string) string {
	return "name:" + strings.TrimSpace(name)
}

// Clone returns a deep copy of s. The unknown roster marker is preserved.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Members != nil {
		c.Members = make([]Member, len(s.Members))
		copy(c.Members, s.Members)
	}
	return c
}

// Merge overwrites the mutable fields of s with the values from next.
// ClanID is never changed.
func (s *Snapshot) Merge(next Snapshot) {
	s.Name = next.Name
	s.IsDisbanded = next.IsDisbanded
	s.OldName = next.OldName
	s.MembersCount = next.MembersCount
	s.Members = next.Clone().Members
	if next.Tag != "" {
		s.Tag = next.Tag
	}
	if next.Description != "" {
		s.Description = next.Description
	}
}

// SameIdentity reports whether a and b describe the same clan. Once either side
// carries a resolved clan_id the comparison is by id, otherwise by name.
func SameIdentity(a, b Snapshot) bool {
	if a.Resolved() || b.Resolved() {
		return sameID(a, b)
	}
	return sameName(a, b)
}

func sameID(a, b Snapshot) bool {
	return a.ClanID == b.ClanID
}

func sameName(a, b Snapshot) bool {
	return strings.TrimSpace(a.Name) == strings.TrimSpace(b.Name)
}

// ParseCount parses a numeric field, treating blank input as 0.
func ParseCount(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", v, err)
	}
	return n, nil
}

// ParseFlag parses a boolean field, treating blank input as false.
func ParseFlag(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse flag %q: %w", v, err)
	}
	return b, nil
}
