package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestIdempotencyStore(t *testing.T) *IdempotencyStore {
	t.Helper()
	store := NewIdempotencyStore(IdempotencyConfig{TTL: time.Hour, Cleanup: time.Hour})
	t.Cleanup(store.Stop)
	return store
}

func idempotentRequest(method, path, key, actor, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if actor != "" {
		req = req.WithContext(context.WithValue(req.Context(), ActorIDKey, actor))
	}
	return req
}

// countingHandler answers with status and counts calls
func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("X-Call", string(rune('0'+n)))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"kind":"ticket_created"}`))
	})
}

func TestFingerprint_DistinguishesInputs(t *testing.T) {
	t.Parallel()
	key := func(parts ...string) commandKey {
		b := make([][]byte, len(parts))
		for i, p := range parts {
			b[i] = []byte(p)
		}
		return fingerprint(b...)
	}
	base := key("g1", "u1", "k1", "POST", "/v1/tickets/t1/claim", "{}")

	variants := []commandKey{
		key("g2", "u1", "k1", "POST", "/v1/tickets/t1/claim", "{}"),
		key("g1", "u2", "k1", "POST", "/v1/tickets/t1/claim", "{}"),
		key("g1", "u1", "k2", "POST", "/v1/tickets/t1/claim", "{}"),
		key("g1", "u1", "k1", "PUT", "/v1/tickets/t1/claim", "{}"),
		key("g1", "u1", "k1", "POST", "/v1/tickets/t2/claim", "{}"),
		key("g1", "u1", "k1", "POST", "/v1/tickets/t1/claim", `{"x":1}`),
		key("g1", "u", "1k1", "POST", "/v1/tickets/t1/claim", "{}"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collides with base key", i)
		}
	}
	if base != key("g1", "u1", "k1", "POST", "/v1/tickets/t1/claim", "{}") {
		t.Error("same inputs must produce the same key")
	}
}

func TestIdempotency_ReplaysCommand(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusCreated))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		first := httptest.NewRecorder()
		handler.ServeHTTP(first, idempotentRequest(method, "/v1/communities/g1/staff/u1/duty", "key-"+method, "u1", "{}"))

		second := httptest.NewRecorder()
		handler.ServeHTTP(second, idempotentRequest(method, "/v1/communities/g1/staff/u1/duty", "key-"+method, "u1", "{}"))

		if second.Code != http.StatusCreated {
			t.Errorf("%s: replay status = %d", method, second.Code)
		}
		if second.Header().Get(ReplayedHeader) != "true" {
			t.Errorf("%s: expected replay header", method)
		}
		if second.Header().Get("X-Call") != first.Header().Get("X-Call") {
			t.Errorf("%s: replay should carry the original headers", method)
		}
	}
	if calls != 3 {
		t.Errorf("expected one call per method, got %d", calls)
	}
}

func TestIdempotency_PassesThrough(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodGet, "/v1/tickets/t1", "k", "u1", ""))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodGet, "/v1/tickets/t1", "k", "u1", ""))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/tickets/t1/claim", "", "u1", "{}"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/tickets/t1/claim", "", "u1", "{}"))

	if calls != 4 {
		t.Errorf("GETs and keyless commands must not be cached, got %d calls", calls)
	}
}

func TestIdempotency_DifferentActorsDoNotShare(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/tickets/t1/close", "k", "u1", "{}"))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/tickets/t1/close", "k", "u2", "{}"))

	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestIdempotency_CommunitiesDoNotShare(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	// An adapter token scoped to one community, reusing its key counter
	// across two guilds
	send := func(community string) *httptest.ResponseRecorder {
		req := idempotentRequest(http.MethodPost, "/v1/tickets/t1/claim", "k", "bridge", "{}")
		req = withClaims(req, adapterClaims(community))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	send("g1")
	if rr := send("g2"); rr.Header().Get(ReplayedHeader) != "" {
		t.Error("a command in another community must not be replayed")
	}
	if rr := send("g1"); rr.Header().Get(ReplayedHeader) != "true" {
		t.Error("a repeat in the same community should be replayed")
	}
	if calls != 2 {
		t.Errorf("expected one call per community, got %d", calls)
	}
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/communities/g1/tickets", "k", "u1", "{}"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, idempotentRequest(http.MethodPost, "/v1/communities/g1/tickets", "k", "u1", "{}"))

	if calls != 2 {
		t.Errorf("a retry after 503 must run again, got %d calls", calls)
	}
	if rr.Header().Get(ReplayedHeader) != "" {
		t.Error("503 must not be replayed")
	}
}

func TestIdempotency_RestoresRequestBody(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)

	var body string
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/", "k", "u1", `{"identifier":"tx-1"}`))

	if body != `{"identifier":"tx-1"}` {
		t.Errorf("handler saw body %q", body)
	}
}

func TestIdempotency_InFlight_SecondRequestWaits(t *testing.T) {
	t.Parallel()
	store := newTestIdempotencyStore(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		w.WriteHeader(http.StatusCreated)
	}))

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := range results {
		results[i] = httptest.NewRecorder()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(results[0], idempotentRequest(http.MethodPost, "/x", "k", "u1", "{}"))
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(results[1], idempotentRequest(http.MethodPost, "/x", "k", "u1", "{}"))
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected one execution, got %d", calls)
	}
	if results[1].Code != http.StatusCreated || results[1].Header().Get(ReplayedHeader) != "true" {
		t.Errorf("waiting request should replay, got %d", results[1].Code)
	}
}

func TestIdempotencyStore_Sweep(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newIdempotencyStore(IdempotencyConfig{TTL: time.Hour}, func() time.Time { return now })

	finished := func(expiresAt time.Time) *storedReply {
		sr := &storedReply{done: make(chan struct{}), expiresAt: expiresAt}
		close(sr.done)
		return sr
	}
	expired, fresh, running := commandKey{1}, commandKey{2}, commandKey{3}
	store.replies[expired] = finished(now.Add(-time.Minute))
	store.replies[fresh] = finished(now.Add(time.Minute))
	store.replies[running] = &storedReply{done: make(chan struct{})}
	store.sweep()

	if _, ok := store.replies[expired]; ok {
		t.Error("expired reply should be removed")
	}
	if _, ok := store.replies[fresh]; !ok {
		t.Error("fresh reply should be kept")
	}
	if _, ok := store.replies[running]; !ok {
		t.Error("pending reply should be kept")
	}
}

func TestIdempotency_ExpiredReplyRunsAgain(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newIdempotencyStore(IdempotencyConfig{TTL: time.Minute}, func() time.Time { return now })
	var calls int32
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/v1/communities/g1/tickets", "k", "u1", "{}"))
	now = now.Add(2 * time.Minute)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, idempotentRequest(http.MethodPost, "/v1/communities/g1/tickets", "k", "u1", "{}"))

	if calls != 2 || rr.Header().Get(ReplayedHeader) != "" {
		t.Errorf("expired reply must not be replayed, calls=%d", calls)
	}
}
