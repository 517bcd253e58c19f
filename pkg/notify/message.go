// Package notify turns membership change events into notification messages
// and delivers them to a sink at a bounded rate.
package notify

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/clanwatch/pkg/clan"
)

// DefaultProfileBaseURL is the public stats page base for a member.
const DefaultProfileBaseURL = "https://tomato.gg/stats/EU"

// Message is one rendered notification.
type Message struct {
	Reason     string
	Member     clan.Member
	Clan       clan.Snapshot
	ProfileURL string
	Text       string
}

// ProfileURL returns <base>/<name>-<id>/ for m.
func ProfileURL(base string, m clan.Member) string {
	return fmt.Sprintf("%s/%s-%d/", strings.TrimRight(base, "/"), m.Name, m.ID)
}

// FormatMessage renders ev using profileBase for the member link.
func FormatMessage(ev clan.ChangeEvent, profileBase string) Message {
	link := ProfileURL(profileBase, ev.Member)
	reason := ev.Kind.Reason()
	return Message{
		Reason:     reason,
		Member:     ev.Member,
		Clan:       ev.Clan,
		ProfileURL: link,
		Text: fmt.Sprintf("Member found. Name: %s, ID: %d, stats: %s, Reason: %s, Clan: %s (%d)",
			ev.Member.Name, ev.Member.ID, link, reason, ev.Clan.Name, ev.Clan.ClanID),
	}
}
