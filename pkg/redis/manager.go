package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ammar0144/entity4go/pkg/metrics"
)

// Value headers written in front of every stored payload
const (
	encodingRaw  byte = 0
	encodingGzip byte = 1
)

// Manager manages the Redis connection of the persistent metadata tier
type Manager struct {
	config        *Config
	client        redis.UniversalClient
	clusterClient *redis.ClusterClient
	metrics       *metrics.Metrics
}

// NewManager creates a new Redis cache manager
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: metrics.New(),
	}

	// Initialize Redis client based on configuration
	if err := manager.initializeClient(); err != nil {
		return nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}

	return manager, nil
}

// NewManagerWithClient wraps an existing client
func NewManagerWithClient(config *Config, client redis.UniversalClient) *Manager {
	m := &Manager{
		config:  config,
		client:  client,
		metrics: metrics.New(),
	}
	if cc, ok := client.(*redis.ClusterClient); ok {
		m.clusterClient = cc
	}
	return m
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() error {
	if !m.config.Enabled {
		return nil // Skip initialization if cache is disabled
	}

	if m.config.IsClusterMode() {
		m.clusterClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		m.client = m.clusterClient
		return nil
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection. A disabled cache is not an error.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}

	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// key namespaces k under the configured prefix
func (m *Manager) key(k string) string {
	if m.config.KeyPrefix == "" {
		return k
	}
	return m.config.KeyPrefix + ":" + k
}

// Get retrieves a raw value, ErrKeyNotFound on a miss
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := m.client.Get(ctx, m.key(key))
	m.metrics.RecordGet(time.Since(start))

	if result.Err() == redis.Nil {
		m.metrics.RecordCacheMiss()
		return nil, ErrKeyNotFound
	}
	if result.Err() != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", result.Err())
	}

	m.metrics.RecordCacheHit()
	return result.Bytes()
}

// Set stores a raw value with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, m.key(key), value, m.config.DefaultTTL).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
	}
	return err
}

// InvalidatePattern removes keys matching a pattern (relative to the key
// prefix) using SCAN, which does not block the server the way KEYS does.
// In cluster mode every master is scanned.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := m.checkClient(); err != nil {
		return 0, err
	}
	match := m.key(pattern)

	var removed int64
	var err error
	if m.clusterClient != nil {
		err = m.clusterClient.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := scanDelete(ctx, node, match, true)
			atomic.AddInt64(&removed, int64(n))
			return err
		})
	} else {
		var n int
		n, err = scanDelete(ctx, m.client, match, false)
		removed = int64(n)
	}

	m.metrics.RecordInvalidation(int(removed))
	if err != nil {
		return int(removed), fmt.Errorf("failed to invalidate pattern %s: %w", pattern, err)
	}
	return int(removed), nil
}

// scanDelete deletes the keys matching match on one server. Cluster nodes
// reject multi-key DEL across slots, so perKey pipelines one DEL per key.
func scanDelete(ctx context.Context, c redis.Cmdable, match string, perKey bool) (int, error) {
	var cursor uint64
	const scanBatchSize = 100
	removed := 0

	for {
		batch, next, err := c.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(batch) > 0 {
			if perKey {
				_, err = c.Pipelined(ctx, func(p redis.Pipeliner) error {
					for _, key := range batch {
						p.Del(ctx, key)
					}
					return nil
				})
			} else {
				err = c.Del(ctx, batch...).Err()
			}
			if err != nil {
				return removed, fmt.Errorf("failed to delete batch: %w", err)
			}
			removed += len(batch)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// ============================================================================
// PERSISTENT METADATA STORE
// ============================================================================

// Load returns the decoded value stored under key. The bool is false on a miss.
func (m *Manager) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := m.Get(ctx, key)
	if IsKeyNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	value, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Save encodes and stores value, compressing it above the configured threshold
func (m *Manager) Save(ctx context.Context, key string, value []byte) error {
	data, err := m.encode(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, data)
}

// Purge removes every key starting with prefix
func (m *Manager) Purge(ctx context.Context, prefix string) error {
	_, err := m.InvalidatePattern(ctx, prefix+"*")
	return err
}

func (m *Manager) encode(value []byte) ([]byte, error) {
	c := m.config.Compression
	if c.Enabled && len(value) > c.Threshold {
		compressed, err := compressData(value)
		if err != nil {
			return nil, fmt.Errorf("failed to compress value: %w", err)
		}
		// keep the raw form when compression does not pay off
		if len(compressed) < len(value) {
			return append([]byte{encodingGzip}, compressed...), nil
		}
	}
	return append([]byte{encodingRaw}, value...), nil
}

func decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCorruptValue
	}
	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingGzip:
		return decompressData(data[1:])
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorruptValue, data[0])
	}
}

// compressData compresses data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressData decompresses gzip data
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() metrics.Snapshot {
	return m.metrics.Snapshot()
}
