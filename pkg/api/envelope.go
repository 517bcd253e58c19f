package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/clanwatch/pkg/clan"
)

// StatusOK is the envelope status of a successful call.
const StatusOK = "ok"

// Envelope is the outer shape shared by every clan API response.
type Envelope struct {
	Status string          `json:"status"`
	Error  *Error          `json:"error,omitempty"`
	Meta   *Meta           `json:"meta,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Error is the upstream error block returned with status "error".
type Error struct {
	Code    FlexInt `json:"code"`
	Message string  `json:"message"`
	Field   string  `json:"field"`
	Value   string  `json:"value"`
}

func (e *Error) String() string {
	if e == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%d %s (field=%s value=%s)", e.Code, e.Message, e.Field, e.Value)
}

// Meta carries result counts. Total and the page fields are only present on
// search responses.
type Meta struct {
	Count     FlexInt `json:"count"`
	Total     FlexInt `json:"total"`
	Page      FlexInt `json:"page"`
	PageTotal FlexInt `json:"page_total"`
}

// SearchEntry is one row of a name search result.
type SearchEntry struct {
	Name   string  `json:"name"`
	ClanID FlexInt `json:"clan_id"`
	Tag    string  `json:"tag"`
}

// ClanDetails is one clan entry of a bulk detail response.
type ClanDetails struct {
	Name         string          `json:"name"`
	ClanID       FlexInt         `json:"clan_id"`
	Tag          string          `json:"tag"`
	IsDisbanded  FlexBool        `json:"is_clan_disbanded"`
	OldName      string          `json:"old_name"`
	MembersCount FlexInt         `json:"members_count"`
	Description  string          `json:"description"`
	Members      []MemberDetails `json:"members"`
}

// Snapshot converts d into a validated clan snapshot. key is the data map key
// the entry was found under and supplies the id when clan_id is blank. A null
// members list stays nil, meaning the roster is unknown.
func (d ClanDetails) Snapshot(key string) (clan.Snapshot, error) {
	clanID := int64(d.ClanID)
	if clanID == 0 {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return clan.Snapshot{}, fmt.Errorf("%w: no clan_id in entry or key %q", clan.ErrInvalidSnapshot, key)
		}
		clanID = id
	}

	var members []clan.Member
	if d.Members != nil {
		members = make([]clan.Member, 0, len(d.Members))
		for _, m := range d.Members {
			members = append(members, clan.Member{
				Name: m.AccountName,
				ID:   int64(m.AccountID),
				Role: m.Role,
			})
		}
	}

	return clan.NewSnapshot(clan.Fields{
		Name:         d.Name,
		ClanID:       clanID,
		Tag:          d.Tag,
		IsDisbanded:  bool(d.IsDisbanded),
		OldName:      d.OldName,
		MembersCount: int64(d.MembersCount),
		Description:  d.Description,
		Members:      members,
	})
}

// MemberDetails is one roster entry inside ClanDetails.
type MemberDetails struct {
	AccountName string  `json:"account_name"`
	AccountID   FlexInt `json:"account_id"`
	Role        string  `json:"role"`
}

// DecodeEnvelope parses a raw response body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// FlexInt decodes JSON numbers, numeric strings, blank strings and null.
// Blank and null become 0.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("flex int %q: %w", s, err)
		}
		*f = FlexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex int %s: %w", b, err)
	}
	*f = FlexInt(n)
	return nil
}

// FlexBool decodes JSON booleans, boolean strings, blank strings and null.
// Blank and null become false.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = false
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = false
			return nil
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("flex bool %q: %w", s, err)
		}
		*f = FlexBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("flex bool %s: %w", b, err)
	}
	*f = FlexBool(v)
	return nil
}
