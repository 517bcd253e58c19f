package clan

// Kind tags a ChangeEvent.
type Kind int

const (
	// KindLeft is emitted for a member that is no longer on the roster.
	KindLeft Kind = iota + 1

	// KindDisbanded is emitted for every member of a clan that just disbanded.
	KindDisbanded
)

// Reason returns the notification reason tag for k.
func (k Kind) Reason() string {
	switch k {
	case KindLeft:
		return "left"
	case KindDisbanded:
		return "Disbanded"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return k.Reason()
}

// ChangeEvent describes a membership change. Clan is a private copy taken at
// emit time and is never shared with the registry.
type ChangeEvent struct {
	Kind   Kind
	Member Member
	Clan   Snapshot
}

// Diff compares two snapshots of the same clan and returns the resulting
// change events. Both LEFT and DISBANDED events carry a copy of prev.
func Diff(prev, next Snapshot) []ChangeEvent {
	var events []ChangeEvent

	if prev.HasRoster() && next.HasRoster() {
		for _, m := range departed(prev.Members, next.Members) {
			events = append(events, ChangeEvent{Kind: KindLeft, Member: m, Clan: prev.Clone()})
		}
	}

	if !prev.IsDisbanded && next.IsDisbanded {
		for _, m := range next.Members {
			events = append(events, ChangeEvent{Kind: KindDisbanded, Member: m, Clan: prev.Clone()})
		}
	}

	return events
}

// departed returns members of prev that have no SameMember match in next.
func departed(prev, next []Member) []Member {
	var left []Member
	for _, m := range prev {
		if !onRoster(next, m) {
			left = append(left, m)
		}
	}
	return left
}

func onRoster(roster []Member, m Member) bool {
	for _, other := range roster {
		if SameMember(other, m) {
			return true
		}
	}
	return false
}
