package clan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMember is returned when member fields fail validation.
var ErrInvalidMember = errors.New("invalid member")

// Member is a single clan member. Two members are the same member when their
// IDs match, regardless of name.
type Member struct {
	Name string `json:"account_name"`
	ID   int64  `json:"account_id"`
	Role string `json:"role"`
}

// NewMember trims and validates member fields.
func NewMember(name string, id int64, role string) (Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Member{}, fmt.Errorf("%w: empty account name (id %d)", ErrInvalidMember, id)
	}
	return Member{
		Name: name,
		ID:   id,
		Role: strings.TrimSpace(role),
	}, nil
}

// SameMember reports whether a and b refer to the same account.
func SameMember(a, b Member) bool {
	return a.ID == b.ID
}
