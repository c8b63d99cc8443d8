package redis

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Compression.Threshold = 64
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManagerWithClient(cfg, client), mr
}

func TestLoadSaveRoundTrip(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	_, ok, err := m.Load(ctx, "fp:course:columns")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save(ctx, "fp:course:columns", []byte("small")))
	got, ok, err := m.Load(ctx, "fp:course:columns")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("small"), got)
	assert.True(t, mr.Exists("entity4go:meta:fp:course:columns"))

	big := bytes.Repeat([]byte("column_name,"), 100)
	require.NoError(t, m.Save(ctx, "fp:course:inbound", big))
	raw, err := mr.Get("entity4go:meta:fp:course:inbound")
	require.NoError(t, err)
	assert.Equal(t, encodingGzip, raw[0])
	assert.Less(t, len(raw), len(big))

	got, ok, err = m.Load(ctx, "fp:course:inbound")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, big, got)

	s := m.GetMetrics()
	assert.Equal(t, uint64(2), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
}

func TestPurge(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "fp1:course:columns", []byte("a")))
	require.NoError(t, m.Save(ctx, "fp1:module:columns", []byte("b")))
	require.NoError(t, m.Save(ctx, "fp2:course:columns", []byte("c")))

	require.NoError(t, m.Purge(ctx, "fp1:"))
	assert.False(t, mr.Exists("entity4go:meta:fp1:course:columns"))
	assert.False(t, mr.Exists("entity4go:meta:fp1:module:columns"))
	assert.True(t, mr.Exists("entity4go:meta:fp2:course:columns"))
}

func TestPurgeScansClusterMasters(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { client.Close() })
	m := NewManagerWithClient(DefaultConfig(), client)
	require.NotNil(t, m.clusterClient)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "fp1:course:columns", []byte("a")))
	require.NoError(t, m.Save(ctx, "fp1:module:columns", []byte("b")))
	require.NoError(t, m.Save(ctx, "fp2:course:columns", []byte("c")))

	removed, err := m.InvalidatePattern(ctx, "fp1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, mr.Exists("entity4go:meta:fp1:course:columns"))
	assert.False(t, mr.Exists("entity4go:meta:fp1:module:columns"))
	assert.True(t, mr.Exists("entity4go:meta:fp2:course:columns"))
	assert.Equal(t, uint64(2), m.GetMetrics().EvictedEntries)
}

func TestCorruptValue(t *testing.T) {
	m, mr := newTestManager(t)
	require.NoError(t, mr.Set("entity4go:meta:bad", "\x07oops"))

	_, _, err := m.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrCorruptValue)
}

func TestDisabledManager(t *testing.T) {
	m := NewManagerWithClient(&Config{Enabled: false}, nil)
	ctx := context.Background()

	assert.NoError(t, m.Ping(ctx))
	_, _, err := m.Load(ctx, "k")
	assert.True(t, IsCacheDisabled(err))
	assert.True(t, IsCacheDisabled(m.Save(ctx, "k", []byte("v"))))
}

func TestPingAndConfigValidation(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NoError(t, m.Ping(context.Background()))

	cfg := DefaultConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg.Cluster = ClusterConfig{Enabled: true, Addresses: []string{"a:1", "b:2"}}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsClusterMode())
}
