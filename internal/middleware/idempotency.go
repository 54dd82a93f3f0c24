package middleware

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// IdempotencyStore remembers the reply to each command sent with an
// Idempotency-Key, so an adapter retrying after a lost response gets the
// first reply back instead of acting twice.
type IdempotencyStore struct {
	mu       sync.Mutex
	now      func() time.Time
	ttl      time.Duration
	replies  map[commandKey]*storedReply
	stop     chan struct{}
	stopOnce sync.Once
}

// commandKey fingerprints one command: scope, actor, key, method, path and body
type commandKey [32]byte

// storedReply is pending until done is closed. A reply that ended in a
// server error is dropped so the next attempt runs the command again.
type storedReply struct {
	done      chan struct{}
	dropped   bool
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

func (sr *storedReply) pending() bool {
	select {
	case <-sr.done:
		return false
	default:
		return true
	}
}

// IdempotencyConfig holds configuration for idempotency middleware
type IdempotencyConfig struct {
	TTL     time.Duration // How long to keep replies (default 24h)
	Cleanup time.Duration // Sweep interval (default 1h)
}

// NewIdempotencyStore creates a store and starts its expiry sweep
func NewIdempotencyStore(cfg IdempotencyConfig) *IdempotencyStore {
	if cfg.Cleanup <= 0 {
		cfg.Cleanup = time.Hour
	}
	s := newIdempotencyStore(cfg, time.Now)
	go s.sweepLoop(cfg.Cleanup)
	return s
}

func newIdempotencyStore(cfg IdempotencyConfig, now func() time.Time) *IdempotencyStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &IdempotencyStore{
		now:     now,
		ttl:     cfg.TTL,
		replies: make(map[commandKey]*storedReply),
		stop:    make(chan struct{}),
	}
}

// Stop ends the expiry sweep
func (s *IdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *IdempotencyStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *IdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, sr := range s.replies {
		if !sr.pending() && sr.expiresAt.Before(now) {
			delete(s.replies, key)
		}
	}
}

// begin returns the reply recorded for key. owner is true when the caller
// must run the command and hand the result to finish.
func (s *IdempotencyStore) begin(key commandKey) (sr *storedReply, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sr, ok := s.replies[key]; ok && (sr.pending() || sr.expiresAt.After(s.now())) {
		return sr, false
	}
	sr = &storedReply{done: make(chan struct{})}
	s.replies[key] = sr
	return sr, true
}

// finish records the command's reply and wakes any duplicates waiting on it
func (s *IdempotencyStore) finish(key commandKey, sr *storedReply, rec *replyRecorder) {
	s.mu.Lock()
	if rec.status >= http.StatusInternalServerError {
		sr.dropped = true
		if s.replies[key] == sr {
			delete(s.replies, key)
		}
	} else {
		sr.status = rec.status
		sr.header = rec.Header().Clone()
		sr.body = rec.body.Bytes()
		sr.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Unlock()
	close(sr.done)
}

// fingerprint hashes the parts of a command with length prefixes, so
// ("u1", "k") and ("u", "1k") never share a key
func fingerprint(parts ...[]byte) commandKey {
	h := blake3.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		_, _ = h.Write(n[:])
		_, _ = h.Write(p)
	}
	var key commandKey
	copy(key[:], h.Sum(nil))
	return key
}

// replyRecorder tees the command's reply to the client and the store
type replyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rr *replyRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *replyRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

func isCommand(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
}

// Idempotency returns middleware that replays the reply of a command sent
// again with the same Idempotency-Key by the same actor in the same
// community. Server errors are not kept, so a retry after a
// transient failure runs the command again.
func Idempotency(store *IdempotencyStore) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(IdempotencyKeyHeader)
			if !isCommand(r.Method) || idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			actorID := GetActorID(ctx)
			if actorID == "" {
				actorID = r.RemoteAddr
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := fingerprint(
				[]byte(RequestScope(ctx)),
				[]byte(actorID),
				[]byte(idemKey),
				[]byte(r.Method),
				[]byte(r.URL.Path),
				body,
			)

			for {
				sr, owner := store.begin(key)
				if owner {
					rec := &replyRecorder{ResponseWriter: w, status: http.StatusOK}
					next.ServeHTTP(rec, r)
					store.finish(key, sr, rec)
					return
				}

				select {
				case <-sr.done:
				case <-ctx.Done():
					return
				}
				if !sr.dropped {
					replay(w, sr)
					return
				}
			}
		})
	}
}

// replay writes a stored reply
func replay(w http.ResponseWriter, sr *storedReply) {
	h := w.Header()
	for k, v := range sr.header {
		h[k] = append([]string(nil), v...)
	}
	h.Set(ReplayedHeader, "true")
	w.WriteHeader(sr.status)
	_, _ = w.Write(sr.body)
}
