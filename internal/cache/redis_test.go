package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/autobill/internal/config"
	"github.com/magabrotheeeer/autobill/internal/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	url := "https://cdn.example.com/1.pdf"
	expected := models.Job{JobID: "job-1", Status: models.JobSent, PDFURL: &url}
	require.NoError(t, cache.Set(ctx, JobKey("job-1"), expected, time.Minute))

	var actual models.Job
	found, err := cache.Get(ctx, JobKey("job-1"), &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected.JobID, actual.JobID)
	assert.Equal(t, expected.Status, actual.Status)
	assert.Equal(t, url, *actual.PDFURL)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out models.Tier
	found, err := cache.Get(context.Background(), TierKey("nobody"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiration(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, TierKey("a"), models.TierPro, time.Minute))
	mr.FastForward(2 * time.Minute)

	var out models.Tier
	found, err := cache.Get(ctx, TierKey("a"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, TierKey("a"), models.TierStandard, time.Minute))
	require.NoError(t, cache.Set(ctx, JobKey("j"), "x", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, TierKey("a"), JobKey("j")))
	require.NoError(t, cache.Invalidate(ctx))

	var out string
	found, err := cache.Get(ctx, JobKey("j"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)

	err := cache.Db.Set(context.Background(), "bad", []byte("not-json"), time.Minute).Err()
	require.NoError(t, err)

	var out models.Job
	found, err := cache.Get(context.Background(), "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestRedisDown(t *testing.T) {
	cache, mr := setupTestCache(t)
	mr.Close()

	var out string
	_, err := cache.Get(context.Background(), "k", &out)
	assert.Error(t, err)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  100 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg)
	assert.Nil(t, cache)
	assert.Error(t, err)
}
