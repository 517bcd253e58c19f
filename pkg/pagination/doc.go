// Package pagination computes page fan-out for the clan name search and
// groups resolved clan ids for the bulk detail endpoint.
//
// The search endpoint reports meta.count (entries on this page) and
// meta.total (entries overall). Only page 1 fans out; later pages never
// schedule further pages:
//
//	pages := pagination.FollowUpPages(1, 20, 47) // [2 3]
//
// The detail endpoint accepts a bounded number of ids per call:
//
//	groups := pagination.Partition(ids, 100)
package pagination
