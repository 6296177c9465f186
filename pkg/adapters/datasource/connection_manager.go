package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes   = 5
	DefaultCleanupInterval        = 1 * time.Minute
	DefaultMaxConnectionsPerOwner = 10
	DefaultPoolMaxConns           = 10
	DefaultPoolMinConns           = 1
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes             int
	MaxConnectionsPerOwner int
	PoolMaxConns           int32
	PoolMinConns           int32
}

// ConnectionManager keeps one pgx pool per owner and descriptor key. Pools
// idle for longer than the TTL are closed by a background sweep.
type ConnectionManager struct {
	mu                     sync.RWMutex
	connections            map[string]*managedPool // key: "{ownerID}#{descriptor key}"
	ttl                    time.Duration
	maxConnectionsPerOwner int
	poolMaxConns           int32
	poolMinConns           int32
	retryConfig            *retry.Config
	stopped                bool
	stopChan               chan struct{}
	logger                 *zap.Logger
}

type managedPool struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnectionsPerOwner <= 0 {
		cfg.MaxConnectionsPerOwner = DefaultMaxConnectionsPerOwner
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	m := &ConnectionManager{
		connections:            make(map[string]*managedPool),
		ttl:                    time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnectionsPerOwner: cfg.MaxConnectionsPerOwner,
		poolMaxConns:           cfg.PoolMaxConns,
		poolMinConns:           cfg.PoolMinConns,
		retryConfig:            retry.DefaultConfig(),
		stopChan:               make(chan struct{}),
		logger:                 logger.Named("connections"),
	}

	go m.cleanupExpiredConnections()
	return m
}

func poolKey(ownerID string, desc ConnectionDescriptor) string {
	return ownerID + "#" + desc.Key()
}

// countConnectionsForOwner counts pools held for ownerID.
// Caller must hold m.mu lock.
func (m *ConnectionManager) countConnectionsForOwner(ownerID string) int {
	count := 0
	prefix := ownerID + "#"
	for key := range m.connections {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}

// GetOrCreatePool returns a healthy pool for desc, creating one if needed.
// Dial failures are reported as connectivity errors.
func (m *ConnectionManager) GetOrCreatePool(ctx context.Context, ownerID string, desc ConnectionDescriptor) (*pgxpool.Pool, error) {
	key := poolKey(ownerID, desc)

	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := managed.pool.Ping(healthCtx); err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("datasource", logging.SanitizeDescriptor(desc)),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key)
			return m.createNewPool(ctx, key, ownerID, desc)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createNewPool(ctx, key, ownerID, desc)
}

// createNewPool creates a new connection pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createNewPool(ctx context.Context, key, ownerID string, desc ConnectionDescriptor) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	ownerCount := m.countConnectionsForOwner(ownerID)
	if ownerCount >= m.maxConnectionsPerOwner {
		m.logger.Warn("owner reached max connections limit",
			zap.String("owner_id", ownerID),
			zap.Int("current", ownerCount),
			zap.Int("max", m.maxConnectionsPerOwner),
		)
		return nil, fmt.Errorf("%w: owner %s has reached the maximum of %d open datasources",
			apperrors.ErrConflict, ownerID, m.maxConnectionsPerOwner)
	}

	desc.Host = config.ResolveHostForDocker(desc.Host)
	poolConfig, err := pgxpool.ParseConfig(desc.ConnString())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection descriptor: %s", apperrors.ErrInvalidInput, logging.SanitizeError(err))
	}
	poolConfig.MaxConns = m.poolMaxConns
	poolConfig.MinConns = m.poolMinConns
	poolConfig.MaxConnIdleTime = m.ttl

	pool, err := retry.DoWithResult(ctx, m.retryConfig, func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		m.logger.Error("failed to open pool",
			zap.String("datasource", logging.SanitizeDescriptor(desc)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, apperrors.Connectivity(desc.String(), err)
	}

	m.connections[key] = &managedPool{
		pool:     pool,
		lastUsed: time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("datasource", logging.SanitizeDescriptor(desc)),
		zap.String("owner_id", ownerID),
		zap.Int("owner_total_connections", ownerCount+1),
	)

	return pool, nil
}

// removeConnection removes a pool from the manager and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		if managed.pool != nil {
			managed.pool.Close()
		}
		delete(m.connections, key)
	}
}

func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock order: manager lock, then pool lock.
func (m *ConnectionManager) performCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	var expired []string
	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()
		if idle > m.ttl {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		if managed := m.connections[key]; managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
		delete(m.connections, key)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
	return len(expired)
}

// Close closes every pool and stops the cleanup goroutine. Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
	}

	m.connections = make(map[string]*managedPool)
	m.logger.Info("connection manager closed")
	return nil
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections       int            `json:"total_connections"`
	MaxConnectionsPerOwner int            `json:"max_connections_per_owner"`
	TTLMinutes             int            `json:"ttl_minutes"`
	ConnectionsByOwner     map[string]int `json:"connections_by_owner"`
}

// GetStats returns statistics about the connection manager.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections:       len(m.connections),
		MaxConnectionsPerOwner: m.maxConnectionsPerOwner,
		TTLMinutes:             int(m.ttl.Minutes()),
		ConnectionsByOwner:     make(map[string]int),
	}
	for key := range m.connections {
		owner, _, _ := strings.Cut(key, "#")
		stats.ConnectionsByOwner[owner]++
	}
	return stats
}
