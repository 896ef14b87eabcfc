package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restoflife/ql_sink/redis"
	"github.com/restoflife/ql_sink/sink"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, string(redis.STANDALONE), cfg.Redis.Mode)
	assert.Equal(t, sink.DefaultMaxBatchSize, cfg.Sink.MaxBatchSize)
}

func TestLoadPartial(t *testing.T) {
	yamlContent := `
log:
  level: debug
  console: ""
redis:
  mode: cluster
  addrs:
    - 10.0.0.1:7000
    - 10.0.0.2:7000
  max_total: 16
sink:
  max_batch_size: 50
  max_buffered_requests: 500
  retry:
    max_attempts: 5
    initial_backoff_ms: 100
http:
  addr: 127.0.0.1:9090
  blocking: true
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.Log.Console)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "cluster", cfg.Redis.Mode)
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.2:7000"}, cfg.Redis.Addrs)
	assert.Equal(t, 16, cfg.Redis.MaxTotal)
	assert.Equal(t, redis.DefaultMaxIdle, cfg.Redis.MaxIdle)

	assert.Equal(t, 50, cfg.Sink.MaxBatchSize)
	assert.Equal(t, int64(sink.DefaultMaxBatchSizeInBytes), cfg.Sink.MaxBatchSizeInBytes)
	assert.Equal(t, 5, cfg.Sink.Retry.MaxAttempts)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.Blocking)
	assert.Equal(t, int64(10000), cfg.HTTP.ShutdownTimeoutMS)
	assert.Equal(t, "ql", cfg.Metrics.Namespace)

	rc, err := cfg.Redis.Build()
	require.NoError(t, err)
	assert.Equal(t, redis.CLUSTER, rc.Mode())

	buf, retry, err := cfg.Sink.Build()
	require.NoError(t, err)
	assert.Equal(t, 500, buf.MaxBufferedRequests)
	assert.Equal(t, 5, retry.MaxAttempts)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(strings.NewReader("redis: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "ql-sink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  namespace: orders\n"), 0o644))
	cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Metrics.Namespace)
	assert.Equal(t, "sink", cfg.Metrics.Subsystem)
}
