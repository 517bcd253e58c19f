// Package metrics exposes the Prometheus registry used by clanwatch.
// All metrics are defined with promauto in the package that owns them
// (client, ratelimit, registry, producer, reconcile, notify, storage,
// pipeline) to keep packages free of import cycles.
//
// This package documents the available metrics and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by clanwatch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the HTTP handler reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - clanwatch_api_requests_total{kind, status} (Counter): Clan API requests by kind and HTTP status
//   - clanwatch_api_request_duration_seconds{kind} (Histogram): Request duration, retries included
//   - clanwatch_api_errors_total{class} (Counter): Errors by class (rate_limit, gateway_timeout, network, client, server)
//
// Retry Metrics (pkg/client):
//   - clanwatch_api_retries_total{error_class} (Counter): Retry attempts by error class
//   - clanwatch_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - clanwatch_api_retry_exhausted_total{error_class} (Counter): Requests dropped after max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - clanwatch_ratelimit_wait_seconds{limiter} (Histogram): Time spent waiting for a token (api, notify)
//
// Registry Metrics (pkg/registry):
//   - clanwatch_registry_clans{state} (Gauge): Tracked clans by state (resolved, unresolved)
//
// Producer Metrics (pkg/producer):
//   - clanwatch_producer_requests_total{kind} (Counter): Requests emitted by kind
//   - clanwatch_producer_cycles_total{loop} (Counter): Completed cycles by loop (resolve, refresh)
//
// Reconcile Metrics (pkg/reconcile):
//   - clanwatch_reconcile_responses_total{kind, outcome} (Counter): Responses by outcome
//   - clanwatch_reconcile_entries_skipped_total{kind, reason} (Counter): Skipped entries (null, malformed, not_tracked)
//   - clanwatch_reconcile_follow_up_pages_total (Counter): Search pages scheduled from a first page
//   - clanwatch_reconcile_events_total{reason} (Counter): Change events produced (left, Disbanded)
//
// Notification Metrics (pkg/notify):
//   - clanwatch_notifications_total{reason, result} (Counter): Notifications by result (sent, failed, cancelled)
//
// Storage Metrics (pkg/storage):
//   - clanwatch_storage_operations_total{backend, operation, result} (Counter): Roster loads and saves
//   - clanwatch_storage_records_skipped_total{backend} (Counter): Records dropped on load
//   - clanwatch_storage_roster_clans{backend} (Gauge): Clans in the last loaded or saved roster
//
// Pipeline Metrics (pkg/pipeline):
//   - clanwatch_pipeline_pending_work (Gauge): Outstanding requests, pages and events
//
// Example Prometheus Queries:
//
//   # Retry rate by class
//   sum by (error_class) (rate(clanwatch_api_retries_total[5m]))
//
//   # Dropped requests
//   rate(clanwatch_api_retry_exhausted_total[1h])
//
//   # P95 limiter wait
//   histogram_quantile(0.95, rate(clanwatch_ratelimit_wait_seconds_bucket[5m]))
//
//   # Unresolved clans
//   clanwatch_registry_clans{state="unresolved"} > 0
