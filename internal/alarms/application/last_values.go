package application

import (
	"context"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

// LastValueMemory is an in-process LastValueStore.
type LastValueMemory struct {
	mu     sync.RWMutex
	values map[string]alarms.Value
}

func NewLastValueMemory() *LastValueMemory {
	return &LastValueMemory{values: make(map[string]alarms.Value)}
}

func (m *LastValueMemory) LastValue(_ context.Context, ruleID string) (*alarms.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[ruleID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *LastValueMemory) SetLastValue(_ context.Context, ruleID string, value alarms.Value) error {
	m.mu.Lock()
	m.values[ruleID] = value
	m.mu.Unlock()
	return nil
}
