package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercari-watcher/models"
)

func newMiniRedisPersister(t *testing.T) (*RedisPersister, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newRedisPersister(client, ""), mr
}

func TestRedisPersisterRoundTrip(t *testing.T) {
	rp, _ := newMiniRedisPersister(t)
	ctx := context.Background()

	records := []models.SeenRecord{
		{Signature: "b", Price: 200, Timestamp: "t1"},
		{Signature: "a", Price: 100, Timestamp: "t2"},
	}
	require.NoError(t, rp.SaveSeen(ctx, records))

	got, err := rp.LoadSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestRedisPersisterSaveReplacesList(t *testing.T) {
	rp, mr := newMiniRedisPersister(t)
	ctx := context.Background()

	require.NoError(t, rp.SaveSeen(ctx, []models.SeenRecord{
		{Signature: "a", Price: 1, Timestamp: "t"},
		{Signature: "b", Price: 2, Timestamp: "t"},
		{Signature: "c", Price: 3, Timestamp: "t"},
	}))
	require.NoError(t, rp.SaveSeen(ctx, []models.SeenRecord{
		{Signature: "c", Price: 3, Timestamp: "t"},
	}))

	list, err := mr.List(DefaultRedisKey)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, rp.SaveSeen(ctx, nil))
	assert.False(t, mr.Exists(DefaultRedisKey))
}

func TestRedisPersisterEmptyKey(t *testing.T) {
	rp, _ := newMiniRedisPersister(t)

	got, err := rp.LoadSeen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisPersisterMalformedRecord(t *testing.T) {
	rp, mr := newMiniRedisPersister(t)
	_, err := mr.Push(DefaultRedisKey, "{not json")
	require.NoError(t, err)

	_, err = rp.LoadSeen(context.Background())
	assert.Error(t, err)
}

func TestNewRedisPersisterRequiresAddress(t *testing.T) {
	_, err := NewRedisPersister(context.Background(), RedisOptions{})
	assert.ErrorIs(t, err, ErrEmptyRedisAddress)
}

func TestNewRedisPersisterConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	rp, err := NewRedisPersister(context.Background(), RedisOptions{Address: mr.Addr(), Key: "custom"})
	require.NoError(t, err)
	defer rp.Close()

	require.NoError(t, rp.SaveSeen(context.Background(), []models.SeenRecord{{Signature: "x", Price: 1, Timestamp: "t"}}))
	assert.True(t, mr.Exists("custom"))
}
