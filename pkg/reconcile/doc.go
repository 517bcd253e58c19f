// Package reconcile validates fetched clan API responses and folds them into
// the registry.
//
// Every response passes a chain of checks that stops at the first failure:
//
//  1. empty body (the fetcher already logged why)
//  2. body is not a JSON envelope
//  3. envelope status is not "ok"
//  4. envelope has no meta block
//  5. meta.count is 0
//
// A first search page reporting more entries than it carries schedules the
// remaining pages onto the request channel. Search results resolve clan
// identities; detail results refresh rosters and produce change events.
package reconcile
