// Package storage loads and saves the clan roster.
//
// Two backends implement Store:
//
//   - CSVStore keeps the hand-editable roster file with the columns
//     name, clan_id, is_clan_disbanded and old_name. Member lists are not
//     persisted, so the first refresh after a restart never reports departures.
//   - RedisStore keeps full snapshots, members included, as JSON records in a
//     single Redis hash, so departures that happen while the watcher is down
//     are reported on the first refresh after a restart.
//
// Both refuse to overwrite the roster with an empty one.
//
// Example usage:
//
//	store := storage.NewCSVStore("wot.csv", logger)
//	snapshots, err := store.Load(ctx)
//	// ...
//	err = store.Save(ctx, reg.SnapshotAll())
package storage
