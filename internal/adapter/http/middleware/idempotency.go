package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader    = "Idempotency-Key"
	// IdempotencyReplayHeader marks a response served from the cache.
	IdempotencyReplayHeader = "X-Idempotency-Replay"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 128
)

// cachedResponse is what a completed request leaves behind for replays.
type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyMiddleware replays the first successful response to a retried
// mutation carrying the same Idempotency-Key. Keys are scoped to the
// authenticated account and the route, so two users never collide.
type IdempotencyMiddleware struct {
	store  usecase.IdempotencyStore
	ttl    time.Duration
	logger zerolog.Logger
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, logger zerolog.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store, ttl: defaultIdempotencyTTL, logger: logger}
}

// WithTTL sets how long completed responses stay replayable.
func (m *IdempotencyMiddleware) WithTTL(ttl time.Duration) *IdempotencyMiddleware {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, domain.CodeIdempotencyConflict, "idempotency key is too long")
			return
		}

		scoped := scopeKey(r, key)
		exists, cached, err := m.store.CheckAndSet(r.Context(), scoped, nil, m.ttl)
		if err != nil {
			m.logger.Error().Err(err).Msg("idempotency check failed")
			writeError(w, http.StatusInternalServerError, domain.CodeInternal, domain.PublicMessage(err))
			return
		}

		if exists {
			if cached == nil || string(cached) == usecase.IdempotencyPending {
				writeError(w, http.StatusConflict, domain.CodeIdempotencyConflict, "a request with this idempotency key is still in progress")
				return
			}
			replay(w, cached)
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		// Only successes are remembered; a failed attempt frees the key so
		// the client can retry it.
		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			var body json.RawMessage
			if recorder.body.Len() > 0 {
				body = recorder.body.Bytes()
			}
			payload, err := json.Marshal(cachedResponse{Status: recorder.statusCode, Body: body})
			if err == nil {
				err = m.store.Update(r.Context(), scoped, payload, m.ttl)
			}
			if err != nil {
				m.logger.Warn().Err(err).Msg("failed to store idempotent response")
			}
			return
		}
		if err := m.store.Delete(r.Context(), scoped); err != nil {
			m.logger.Warn().Err(err).Msg("failed to release idempotency key")
		}
	})
}

// IdempotencyKey returns the client-supplied key of r, if any.
func IdempotencyKey(r *http.Request) string {
	return r.Header.Get(IdempotencyKeyHeader)
}

func scopeKey(r *http.Request, key string) string {
	account := "anonymous"
	if user, ok := domain.UserFromContext(r.Context()); ok {
		account = user.ID
	}
	return account + ":" + r.Method + ":" + r.URL.Path + ":" + key
}

func replay(w http.ResponseWriter, raw []byte) {
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil || cached.Status == 0 {
		// Not an envelope: replay as a plain body.
		cached = cachedResponse{Status: http.StatusOK, Body: raw}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(IdempotencyReplayHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
