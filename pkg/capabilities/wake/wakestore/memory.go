// Package wakestore implements wake.Store on memory, redis, SQL and etcd.
package wakestore

import (
	"context"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// Memory keeps registrations in process memory. Registrations do not
// survive a restart; it suits tests and single-shot runs.
type Memory struct {
	mu   sync.RWMutex
	regs map[string]wake.Registration
}

var _ wake.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{regs: make(map[string]wake.Registration)}
}

func (m *Memory) Put(_ context.Context, reg wake.Registration) error {
	cfg, err := reg.Config.Clone()
	if err != nil {
		return err
	}
	reg.Config = cfg

	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg.Key] = reg
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (wake.Registration, error) {
	m.mu.RLock()
	reg, ok := m.regs[key]
	m.mu.RUnlock()
	if !ok {
		return wake.Registration{}, errors.ErrRecordNotFound.WithMessagef("registration %q not found", key)
	}

	cfg, err := reg.Config.Clone()
	if err != nil {
		return wake.Registration{}, err
	}
	reg.Config = cfg
	return reg, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, key)
	return nil
}

func (m *Memory) List(_ context.Context) ([]wake.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs := make([]wake.Registration, 0, len(m.regs))
	for _, reg := range m.regs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Key < regs[j].Key })
	return regs, nil
}
