// Package pool tracks live MCP server connections and their aggregate
// performance. It is a connection registry with instrumentation rather than
// a lease/return pool: connections stay open until explicitly disconnected.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashgraphonline/holdesk/concurrency"
	"github.com/hashgraphonline/holdesk/log"
	"github.com/hashgraphonline/holdesk/mcp"
	"github.com/hashgraphonline/holdesk/metrics"
)

// PerformanceMetrics is a point-in-time aggregate over the pool. Reading it
// has no side effects.
type PerformanceMetrics struct {
	ActiveConnections  int           `json:"activeConnections"`
	TotalConnects      uint64        `json:"totalConnects"`
	FailedConnects     uint64        `json:"failedConnects"`
	TotalToolCalls     uint64        `json:"totalToolCalls"`
	AverageConnectTime time.Duration `json:"averageConnectTime"`
}

// entry is one tracked connection.
type entry struct {
	conn        mcp.Connection
	config      mcp.ServerConfig
	connectedAt time.Time
	connectTime time.Duration
}

// Pool bounds and tracks connections to external MCP servers. Connection
// attempts run through the concurrency manager so no more than its limit are
// in flight at once.
type Pool struct {
	connector mcp.Connector
	manager   *concurrency.Manager
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*entry

	totalConnects     uint64
	failedConnects    uint64
	totalToolCalls    uint64
	totalConnectNanos int64
}

// New creates a pool over the given connector and concurrency manager.
func New(connector mcp.Connector, manager *concurrency.Manager, m *metrics.Metrics) *Pool {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Pool{
		connector: connector,
		manager:   manager,
		metrics:   m,
		entries:   make(map[string]*entry),
	}
}

// Connect establishes a connection to the given server, bounded by the
// concurrency manager. Connecting to an already-connected server returns the
// existing connection.
func (p *Pool) Connect(ctx context.Context, cfg mcp.ServerConfig) (mcp.Connection, error) {
	p.mu.RLock()
	if e, ok := p.entries[cfg.ID]; ok {
		p.mu.RUnlock()
		return e.conn, nil
	}
	p.mu.RUnlock()

	started := time.Now()
	result, err := p.manager.Execute(ctx, &concurrency.Task{
		ID:       "connect-" + cfg.ID,
		Priority: 1,
		Timeout:  30 * time.Second,
		Execute: func(ctx context.Context) (any, error) {
			return p.connector.Connect(ctx, cfg)
		},
	})
	elapsed := time.Since(started)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.totalConnects++
		p.failedConnects++
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ID, err)
	}
	conn := result.(mcp.Connection)

	// A concurrent Connect for the same server may have won; keep the first.
	// The losing dial is closed and stays out of the connect counters.
	if e, ok := p.entries[cfg.ID]; ok {
		_ = conn.Close()
		return e.conn, nil
	}

	p.totalConnects++
	p.totalConnectNanos += elapsed.Nanoseconds()
	p.entries[cfg.ID] = &entry{
		conn:        conn,
		config:      cfg,
		connectedAt: time.Now(),
		connectTime: elapsed,
	}
	p.metrics.PoolConnectSeconds.Observe(elapsed.Seconds())
	p.metrics.PoolConnections.Set(float64(len(p.entries)))
	log.S().Infow("connected to mcp server", "server", cfg.ID, "elapsed", elapsed)
	return conn, nil
}

// Disconnect closes and forgets a tracked connection. Disconnecting an
// unknown server reports false, not an error.
func (p *Pool) Disconnect(id string) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.metrics.PoolConnections.Set(float64(len(p.entries)))
	p.mu.Unlock()

	if !ok {
		return false
	}
	if err := e.conn.Close(); err != nil {
		log.S().Warnw("error closing mcp connection", "server", id, "error", err)
	}
	return true
}

// Tools returns the tools advertised by a connected server.
func (p *Pool) Tools(id string) ([]mcp.Tool, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("server %s is not connected", id)
	}
	return e.conn.Tools(), nil
}

// CallTool invokes a tool on a connected server.
func (p *Pool) CallTool(ctx context.Context, id, tool string, args map[string]any) (string, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("server %s is not connected", id)
	}

	p.mu.Lock()
	p.totalToolCalls++
	p.mu.Unlock()
	return e.conn.CallTool(ctx, tool, args)
}

// ConnectedServers lists the ids of currently tracked connections.
func (p *Pool) ConnectedServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	return ids
}

// GetPerformanceMetrics returns current totals without side effects.
func (p *Pool) GetPerformanceMetrics() PerformanceMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pm := PerformanceMetrics{
		ActiveConnections: len(p.entries),
		TotalConnects:     p.totalConnects,
		FailedConnects:    p.failedConnects,
		TotalToolCalls:    p.totalToolCalls,
	}
	if succeeded := p.totalConnects - p.failedConnects; succeeded > 0 {
		pm.AverageConnectTime = time.Duration(p.totalConnectNanos / int64(succeeded))
	}
	return pm
}

// Shutdown disconnects every tracked server.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.metrics.PoolConnections.Set(0)
	p.mu.Unlock()

	for id, e := range entries {
		if err := e.conn.Close(); err != nil {
			log.S().Warnw("error closing mcp connection", "server", id, "error", err)
		}
	}
}
