package facilities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedDirectory_HitAvoidsBackend(t *testing.T) {
	mr, client := newMiniredisClient(t)
	backend := &countingDirectory{result: []Facility{{ID: "f1", Name: "Lung Center", Location: "austin"}}}
	dir := NewCachedDirectory(backend, client, time.Minute, logging.NewWithWriter("error", nil))
	ctx := context.Background()

	first, err := dir.Nearby(ctx, "Austin", 5)
	require.NoError(t, err)
	second, err := dir.Nearby(ctx, "austin", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.calls)
	assert.True(t, mr.Exists(cacheKey("austin", 5)))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("austin", 5)))
}

func TestCachedDirectory_ExpiryRefetches(t *testing.T) {
	mr, client := newMiniredisClient(t)
	backend := &countingDirectory{result: []Facility{{ID: "f1"}}}
	dir := NewCachedDirectory(backend, client, time.Minute, nil)
	ctx := context.Background()

	_, err := dir.Nearby(ctx, "austin", 5)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = dir.Nearby(ctx, "austin", 5)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.calls)
}

func TestCachedDirectory_CachesEmptyResult(t *testing.T) {
	_, client := newMiniredisClient(t)
	backend := &countingDirectory{}
	dir := NewCachedDirectory(backend, client, time.Minute, nil)

	got, err := dir.Nearby(context.Background(), "nowhere", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, err = dir.Nearby(context.Background(), "nowhere", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestCachedDirectory_CorruptEntryFallsBack(t *testing.T) {
	mr, client := newMiniredisClient(t)
	require.NoError(t, mr.Set(cacheKey("austin", 5), "{not json"))
	backend := &countingDirectory{result: []Facility{{ID: "f1"}}}
	dir := NewCachedDirectory(backend, client, time.Minute, logging.NewWithWriter("error", nil))

	got, err := dir.Nearby(context.Background(), "austin", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, backend.calls)
}

func TestCachedDirectory_RedisDownFallsBack(t *testing.T) {
	mr, client := newMiniredisClient(t)
	mr.Close()
	backend := &countingDirectory{result: []Facility{{ID: "f1"}}}
	dir := NewCachedDirectory(backend, client, time.Minute, logging.NewWithWriter("error", nil))

	got, err := dir.Nearby(context.Background(), "austin", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCachedDirectory_BackendErrorNotCached(t *testing.T) {
	mr, client := newMiniredisClient(t)
	backend := &countingDirectory{err: errors.New("db down")}
	dir := NewCachedDirectory(backend, client, time.Minute, nil)

	_, err := dir.Nearby(context.Background(), "austin", 5)
	require.Error(t, err)
	assert.False(t, mr.Exists(cacheKey("austin", 5)))
}

func TestNewCachedDirectory_NilClientReturnsBackend(t *testing.T) {
	backend := &countingDirectory{}
	assert.Same(t, backend, NewCachedDirectory(backend, nil, time.Minute, nil))
}
