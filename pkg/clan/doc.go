// Package clan defines the clan roster data model: members, clan snapshots,
// identity comparison, and the snapshot diff that produces change events.
//
// Snapshots are plain values. A Snapshot with ClanID 0 has not been resolved
// from a name search yet. A nil member list means the roster is unknown, which
// is different from a known empty roster; diffs only run when both sides are
// known.
package clan
