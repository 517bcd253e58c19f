// Package testutil provides testing utilities for the clan watcher.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock clan API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock clan API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount int
	requests     []*http.Request
}

// NewMockAPI creates a new mock clan API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.requests = append(mock.requests, r.Clone(r.Context()))
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","error":{"code":404,"message":"METHOD_NOT_FOUND"}}`))
	}))

	return mock
}

// URL returns the mock server URL, usable as the API base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, responder(resp))
}

// SetSequence answers consecutive requests to path with resps in order and
// repeats the last one once the sequence is used up.
func (m *MockAPI) SetSequence(path string, resps ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		mu.Unlock()
		responder(resp)(w, r)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Requests returns copies of all requests received so far.
func (m *MockAPI) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func responder(resp MockResponse) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

// NewJSONResponse creates a 200 OK response with the given JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status":"error","error":{"code":429,"message":"REQUEST_LIMIT_EXCEEDED"}}`,
	}
}

// NewGatewayTimeoutResponse creates a 504 Gateway Timeout response.
func NewGatewayTimeoutResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusGatewayTimeout, Body: "gateway timeout"}
}

// SearchEntry is one row for SearchBody.
type SearchEntry struct {
	Name   string `json:"name"`
	ClanID int64  `json:"clan_id"`
}

// SearchBody renders a name search envelope.
func SearchBody(total int, entries ...SearchEntry) string {
	body, _ := json.Marshal(map[string]any{
		"status": "ok",
		"meta":   map[string]int{"count": len(entries), "total": total},
		"data":   entries,
	})
	return string(body)
}

// MemberEntry is one roster row for DetailsBody.
type MemberEntry struct {
	AccountName string `json:"account_name"`
	AccountID   int64  `json:"account_id"`
	Role        string `json:"role"`
}

// ClanEntry is one clan for DetailsBody.
type ClanEntry struct {
	Name         string        `json:"name"`
	ClanID       int64         `json:"clan_id"`
	Tag          string        `json:"tag"`
	IsDisbanded  bool          `json:"is_clan_disbanded"`
	OldName      string        `json:"old_name"`
	MembersCount int           `json:"members_count"`
	Members      []MemberEntry `json:"members"`
}

// DetailsBody renders a bulk detail envelope keyed by clan id.
func DetailsBody(clans ...ClanEntry) string {
	data := make(map[string]ClanEntry, len(clans))
	for _, c := range clans {
		if c.MembersCount == 0 {
			c.MembersCount = len(c.Members)
		}
		data[fmt.Sprintf("%d", c.ClanID)] = c
	}
	body, _ := json.Marshal(map[string]any{
		"status": "ok",
		"meta":   map[string]int{"count": len(clans)},
		"data":   data,
	})
	return string(body)
}

// ClanIDsParam splits the clan_id query parameter of r.
func ClanIDsParam(r *http.Request) []string {
	v := r.URL.Query().Get("clan_id")
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
