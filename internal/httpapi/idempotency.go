package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"posrider/backend/internal/cache"
	"posrider/backend/internal/service"
	"posrider/backend/internal/store"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	maxIdempotencyKey = 128
)

// idempotent replays the stored response for a repeated mutating request that
// carries the same Idempotency-Key from the same user. A duplicate arriving
// while the first is still running gets 409 and a retry with a different body
// gets 422. Server errors are not stored so the client may retry them.
func (a *API) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if a.idempotency == nil || raw == "" || !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if len(raw) > maxIdempotencyKey {
			a.fail(w, r, fmt.Errorf("%w: %s must be at most %d characters", store.ErrValidation, idempotencyHeader, maxIdempotencyKey))
			return
		}

		actor, _ := service.ActorFromContext(r.Context())
		key := strings.Join([]string{actor.ID, r.Method, r.URL.Path, raw}, "|")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: read body: %w", store.ErrValidation, err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		requestHash := hex.EncodeToString(sum[:])

		stored, err := a.idempotency.Begin(r.Context(), key, a.inFlightTTL)
		if errors.Is(err, cache.ErrInFlight) {
			a.fail(w, r, err)
			return
		}
		if err != nil {
			a.fail(w, r, fmt.Errorf("idempotency lookup: %w", err))
			return
		}
		if stored != nil {
			if stored.RequestHash != "" && stored.RequestHash != requestHash {
				a.fail(w, r, cache.ErrKeyReused)
				return
			}
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set(replayHeader, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		// The outcome is recorded even if the client has gone away.
		storeCtx := context.WithoutCancel(r.Context())
		rec := &capturingWriter{ResponseWriter: w}
		completed := false
		defer func() {
			if !completed {
				// Panics and server errors release the key for a retry.
				if err := a.idempotency.Abort(storeCtx, key); err != nil {
					a.log.Warn("idempotency abort failed", zap.Error(err))
				}
			}
		}()

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		resp := cache.Response{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
			RequestHash: requestHash,
		}
		if err := a.idempotency.Complete(storeCtx, key, resp, a.idempotencyTTL); err != nil {
			a.log.Warn("idempotency complete failed", zap.String("path", r.URL.Path), zap.Error(err))
			return
		}
		completed = true
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// capturingWriter passes the response through while keeping a copy.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
