// Package storage defines the connection contract shared by the durable
// backends (redis, sql, etcd) and a Manager owning their lifecycle.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
)

// Client is the base interface of every storage connection.
type Client interface {
	// Name returns the backend type, e.g. "redis".
	Name() string

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close releases the connection. It must be safe to call twice.
	Close() error
}

// HealthStatus is the result of one health check.
type HealthStatus struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   error
}

// Manager registers named clients, checks their health and closes them on
// shutdown. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client
	pool    *pool.Pool
}

// NewManager creates a manager. Health checks run on p when it is not nil.
func NewManager(p *pool.Pool) *Manager {
	return &Manager{
		clients: make(map[string]Client),
		pool:    p,
	}
}

// Register adds client under name.
func (m *Manager) Register(name string, client Client) error {
	if name == "" || client == nil {
		return errors.ErrInvalidParam.WithMessage("client name and client are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[name]; exists {
		return errors.ErrInvalidParam.WithMessagef("storage client %q already registered", name)
	}
	m.clients[name] = client
	logger.Infow("Storage client registered", "name", name, "type", client.Name())
	return nil
}

// Get returns the client registered under name.
func (m *Manager) Get(name string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[name]
	if !exists {
		return nil, errors.ErrRecordNotFound.WithMessagef("storage client %q not found", name)
	}
	return client, nil
}

// List returns the registered names in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll pings every client concurrently.
// 使用 ants 池执行并行健康检查，避免无限制创建 goroutine
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	m.mu.RLock()
	clients := make(map[string]Client, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(clients))
	var statusMu sync.Mutex
	var wg sync.WaitGroup

	for name, client := range clients {
		wg.Add(1)
		task := func() {
			defer wg.Done()

			start := time.Now()
			err := client.Ping(ctx)

			statusMu.Lock()
			statuses[name] = HealthStatus{
				Name:    name,
				Healthy: err == nil,
				Latency: time.Since(start),
				Error:   err,
			}
			statusMu.Unlock()
		}

		// 使用池提交任务，失败时降级为直接创建 goroutine
		if m.pool == nil || m.pool.Submit(task) != nil {
			go task()
		}
	}

	wg.Wait()
	return statuses
}

// CheckAll returns an error naming the first unhealthy client.
func (m *Manager) CheckAll(ctx context.Context) error {
	statuses := m.HealthCheckAll(ctx)
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if s := statuses[name]; !s.Healthy {
			return fmt.Errorf("storage client %q unhealthy: %w", name, s.Error)
		}
	}
	return nil
}

// CloseAll closes every client, continuing past failures, and returns the
// first error.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, client := range m.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close storage client %q: %w", name, err)
		}
		delete(m.clients, name)
	}
	return firstErr
}
