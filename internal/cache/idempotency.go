package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInFlight is returned by Begin while another request holds the key.
	ErrInFlight = errors.New("request with this idempotency key is still in progress")
	// ErrKeyReused marks a retry whose body differs from the stored request.
	ErrKeyReused = errors.New("idempotency key was already used with a different request body")
)

// Response is a stored HTTP response replayed for retried requests.
// RequestHash fingerprints the request body that produced it.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash,omitempty"`
}

// IdempotencyStore reserves keys for in-flight requests and keeps their
// final responses for replay.
//
// Begin returns a stored response when one exists, (nil, nil) when the caller
// now owns the key, or ErrInFlight. The owner must call Complete or Abort.
// The ttl given to Begin bounds the in-flight reservation only, so a key
// whose owner died is released after it; Complete's ttl governs replay.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string, ttl time.Duration) (*Response, error)
	Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	resp      *Response
	expiresAt time.Time
}

type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Begin(_ context.Context, key string, ttl time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		if entry.resp == nil {
			return nil, ErrInFlight
		}
		replay := *entry.resp
		return &replay, nil
	}

	s.entries[key] = memoryEntry{expiresAt: now.Add(ttl)}
	s.sweep(now)
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{resp: &resp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryIdempotencyStore) sweep(now time.Time) {
	if len(s.entries) < 1024 {
		return
	}
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
