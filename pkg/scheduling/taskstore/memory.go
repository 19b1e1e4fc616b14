// Package taskstore implements scheduling.TaskStore on memory, redis and
// SQL.
package taskstore

import (
	"context"
	"sync"

	"github.com/kart-io/sentinel-agent/pkg/scheduling"
)

// Memory keeps task records in process memory.
type Memory struct {
	mu     sync.RWMutex
	owners map[string]map[string]scheduling.Task
}

var _ scheduling.TaskStore = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{owners: make(map[string]map[string]scheduling.Task)}
}

func (m *Memory) Save(_ context.Context, task scheduling.Task) error {
	task.Payload = append([]byte(nil), task.Payload...)

	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, ok := m.owners[task.OwnerKey]
	if !ok {
		tasks = make(map[string]scheduling.Task)
		m.owners[task.OwnerKey] = tasks
	}
	tasks[task.ID] = task
	return nil
}

func (m *Memory) Delete(_ context.Context, ownerKey, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, ok := m.owners[ownerKey]
	if !ok {
		return nil
	}
	delete(tasks, id)
	if len(tasks) == 0 {
		delete(m.owners, ownerKey)
	}
	return nil
}

func (m *Memory) List(_ context.Context, ownerKey string) ([]scheduling.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]scheduling.Task, 0, len(m.owners[ownerKey]))
	for _, t := range m.owners[ownerKey] {
		t.Payload = append([]byte(nil), t.Payload...)
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}
