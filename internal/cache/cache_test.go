package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posrider/backend/internal/xid"
)

func TestMemoryIdempotencyLifecycle(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	resp, err := s.Begin(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, resp, "first caller owns the key")

	_, err = s.Begin(ctx, "k1", time.Minute)
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, s.Complete(ctx, "k1", Response{Status: 201, ContentType: "application/json", Body: []byte(`{"ok":true}`)}, time.Minute))

	replay, err := s.Begin(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.Status)
	assert.JSONEq(t, `{"ok":true}`, string(replay.Body))
}

func TestMemoryIdempotencyAbortReleasesKey(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	_, err := s.Begin(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Abort(ctx, "k1"))

	resp, err := s.Begin(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestMemoryIdempotencyExpires(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Complete(ctx, "k1", Response{Status: 200}, time.Minute))
	now = now.Add(2 * time.Minute)

	resp, err := s.Begin(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, resp, "expired record must not replay")
}

func TestMemoryIdempotencyReleasesAbandonedReservation(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Begin(ctx, "k1", 30*time.Second)
	require.NoError(t, err)
	_, err = s.Begin(ctx, "k1", 30*time.Second)
	require.ErrorIs(t, err, ErrInFlight)

	now = now.Add(31 * time.Second)
	resp, err := s.Begin(ctx, "k1", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, resp, "an owner that never finished must not block retries")

	require.NoError(t, s.Complete(ctx, "k1", Response{Status: 201, RequestHash: "abc"}, time.Hour))
	now = now.Add(time.Minute)
	replay, err := s.Begin(ctx, "k1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, "abc", replay.RequestHash)
}

func TestNoopReportCacheAlwaysMisses(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	require.NoError(t, c.Set(context.Background(), "k", map[string]int{"a": 1}, time.Minute))

	var dst map[string]int
	ok, err := c.Get(context.Background(), "k", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStores(t *testing.T) {
	addr := os.Getenv("POSRIDER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSRIDER_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	reports := NewRedisReportCache(client)
	key := "it-" + xid.New()
	require.NoError(t, reports.Set(ctx, key, map[string]int{"total": 7}, time.Minute))
	var got map[string]int
	ok, err := reports.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, got["total"])

	idem := NewRedisIdempotencyStore(client)
	idemKey := "it-" + xid.New()
	t.Cleanup(func() { _ = idem.Abort(ctx, idemKey) })

	resp, err := idem.Begin(ctx, idemKey, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = idem.Begin(ctx, idemKey, time.Minute)
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, idem.Complete(ctx, idemKey, Response{Status: 201, Body: []byte(`{}`)}, time.Minute))
	resp, err = idem.Begin(ctx, idemKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
}
