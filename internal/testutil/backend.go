// Package testutil provides a scriptable stand-in for the portal's GraphQL
// backend for use in package tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Backend is an httptest server that answers GraphQL POSTs at /api/graphql
// and plain REST routes under /api. GraphQL responses are scripted per root
// field (e.g. "role", "mutationLogs", "createRole"); every received request is
// recorded for assertion.
type Backend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	scripts  map[string]*script
	received map[string][]*RecordedRequest
}

// RecordedRequest captures one request received by the backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      map[string]string
	Headers    http.Header
	Cookies    []*http.Cookie
	Document   string
	Variables  map[string]any
	RawBody    []byte
	ReceivedAt time.Time
}

type script struct {
	mu        sync.Mutex
	responses []*response
	current   int
}

type response struct {
	status    int
	body      any
	raw       []byte
	delay     time.Duration
	connError bool
	header    http.Header
	cookies   []*http.Cookie
	fn        func(*RecordedRequest) (int, any)
}

// NewBackend starts a backend server closed at test cleanup.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		t:        t,
		scripts:  make(map[string]*script),
		received: make(map[string][]*RecordedRequest),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

// APIURL returns the base API URL; GraphQL lives at APIURL()+"/graphql".
func (b *Backend) APIURL() string {
	return b.server.URL + "/api"
}

// Scripted is a builder for the responses to one GraphQL root field or one
// REST route.
type Scripted struct {
	backend *Backend
	key     string
}

// OnGraphQL scripts responses for queries or mutations whose first root
// field is field.
func (b *Backend) OnGraphQL(field string) *Scripted {
	return &Scripted{backend: b, key: field}
}

// OnREST scripts responses for a REST route, e.g. OnREST("GET",
// "/core/users/current_user/"). The path is relative to APIURL.
func (b *Backend) OnREST(method, path string) *Scripted {
	return &Scripted{backend: b, key: method + " " + path}
}

// RespondData answers with {"data": data}.
func (s *Scripted) RespondData(data any) *Scripted {
	s.backend.add(s.key, &response{status: http.StatusOK, body: map[string]any{"data": data}})
	return s
}

// RespondErrors answers 200 with a GraphQL errors array.
func (s *Scripted) RespondErrors(messages ...string) *Scripted {
	errs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		errs = append(errs, map[string]any{"message": m})
	}
	s.backend.add(s.key, &response{
		status: http.StatusOK,
		body:   map[string]any{"data": nil, "errors": errs},
	})
	return s
}

// RespondStatus answers with the given status and JSON body.
func (s *Scripted) RespondStatus(status int, body any) *Scripted {
	s.backend.add(s.key, &response{status: status, body: body})
	return s
}

// RespondRaw answers with the given status and raw body bytes.
func (s *Scripted) RespondRaw(status int, contentType string, body []byte) *Scripted {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	s.backend.add(s.key, &response{status: status, raw: body, header: h})
	return s
}

// RespondWithCookies answers with data and sets the given cookies.
func (s *Scripted) RespondWithCookies(data any, cookies ...*http.Cookie) *Scripted {
	s.backend.add(s.key, &response{
		status:  http.StatusOK,
		body:    map[string]any{"data": data},
		cookies: cookies,
	})
	return s
}

// RespondWithDelay answers with data after delay.
func (s *Scripted) RespondWithDelay(delay time.Duration, data any) *Scripted {
	s.backend.add(s.key, &response{
		status: http.StatusOK,
		body:   map[string]any{"data": data},
		delay:  delay,
	})
	return s
}

// RespondFunc computes the response from the recorded request. The returned
// body is JSON encoded as is.
func (s *Scripted) RespondFunc(fn func(*RecordedRequest) (int, any)) *Scripted {
	s.backend.add(s.key, &response{fn: fn})
	return s
}

// RespondWithConnectionError closes the connection without answering.
func (s *Scripted) RespondWithConnectionError() *Scripted {
	s.backend.add(s.key, &response{connError: true})
	return s
}

func (b *Backend) add(key string, r *response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc, ok := b.scripts[key]
	if !ok {
		sc = &script{}
		b.scripts[key] = sc
	}
	sc.responses = append(sc.responses, r)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       strings.TrimPrefix(r.URL.Path, "/api"),
		Query:      make(map[string]string),
		Headers:    r.Header.Clone(),
		Cookies:    r.Cookies(),
		ReceivedAt: time.Now(),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			rec.Query[key] = values[0]
		}
	}
	if r.Body != nil {
		rec.RawBody, _ = io.ReadAll(r.Body)
	}

	key := r.Method + " " + rec.Path
	if r.Method == http.MethodPost && rec.Path == "/graphql" {
		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(rec.RawBody, &payload); err != nil {
			http.Error(w, "malformed graphql payload", http.StatusBadRequest)
			return
		}
		rec.Document = payload.Query
		rec.Variables = payload.Variables
		key = RootField(payload.Query)
	}

	b.mu.Lock()
	b.received[key] = append(b.received[key], rec)
	b.mu.Unlock()

	resp := b.next(key)
	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "no script for " + key})
		return
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, _ := hj.Hijack(); conn != nil {
				conn.Close()
			}
		}
		return
	}
	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, vs := range resp.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, c := range resp.cookies {
		http.SetCookie(w, c)
	}

	status, body := resp.status, resp.body
	if resp.fn != nil {
		status, body = resp.fn(rec)
	}
	if resp.raw != nil {
		w.WriteHeader(status)
		w.Write(resp.raw)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func (b *Backend) next(key string) *response {
	b.mu.RLock()
	sc, ok := b.scripts[key]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.responses) == 0 {
		return nil
	}
	idx := sc.current
	if idx >= len(sc.responses) {
		// The last response repeats.
		idx = len(sc.responses) - 1
	} else {
		sc.current++
	}
	return sc.responses[idx]
}

// Calls returns the number of requests received for a root field or route key.
func (b *Backend) Calls(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.received[key])
}

// AssertCalled verifies a root field or route key was requested n times.
func (b *Backend) AssertCalled(t *testing.T, key string, n int) {
	t.Helper()
	if got := b.Calls(key); got != n {
		t.Errorf("backend: %q called %d times, want %d", key, got, n)
	}
}

// LastRequest returns the last request for a key, or nil.
func (b *Backend) LastRequest(key string) *RecordedRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reqs := b.received[key]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns a copy of all requests for a key.
func (b *Backend) AllRequests(key string) []*RecordedRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*RecordedRequest, len(b.received[key]))
	copy(out, b.received[key])
	return out
}

// RootField returns the first root field selected by a GraphQL document:
// "role" for `{ role(first: 10) { ... } }` and "createRole" for
// `mutation { createRole(input: {...}) { ... } }`.
func RootField(document string) string {
	doc := strings.TrimSpace(document)
	brace := strings.Index(doc, "{")
	if brace < 0 {
		return ""
	}
	rest := strings.TrimSpace(doc[brace+1:])
	end := strings.IndexAny(rest, "( {\n\t")
	if end < 0 {
		return rest
	}
	return rest[:end]
}
