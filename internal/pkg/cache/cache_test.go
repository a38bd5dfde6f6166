package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	SetClient(c)
	t.Cleanup(func() {
		c.Close()
		SetClient(nil)
	})
	return mr
}

func TestSetOnce(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	stored, err := SetOnce(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = SetOnce(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, time.Hour, mr.TTL("webhook:evt_1"))

	require.NoError(t, Delete(ctx, "webhook:evt_1"))
	stored, err = SetOnce(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestOptions_FromEnv(t *testing.T) {
	t.Setenv("CACHE_HOST", "redis.internal")
	t.Setenv("CACHE_PORT", "6380")
	t.Setenv("CACHE_DB", "2")

	opts := Options()
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}
