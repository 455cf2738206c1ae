package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// TemplateStore is an in-memory template repository.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]alarms.AlarmTemplate
}

// NewTemplateStore constructs an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]alarms.AlarmTemplate)}
}

// Get loads a template.
func (s *TemplateStore) Get(ctx context.Context, id string) (*alarms.AlarmTemplate, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, alarms.NotFoundf("template %s", id)
	}
	return &tpl, nil
}

// List returns live templates for tenant ordered by name.
func (s *TemplateStore) List(ctx context.Context, tenantID string) ([]alarms.AlarmTemplate, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.AlarmTemplate, 0)
	for _, tpl := range s.templates {
		if tpl.TenantID == tenantID && tpl.DeletedAt == nil {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Create stores a new template.
func (s *TemplateStore) Create(ctx context.Context, tpl *alarms.AlarmTemplate) error {
	_ = ctx
	if tpl == nil {
		return errors.New("memory template store: nil template")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; ok {
		return alarms.Conflictf("template %s already exists", tpl.ID)
	}
	s.templates[tpl.ID] = *tpl
	return nil
}

// SoftDelete marks a template deleted.
func (s *TemplateStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok || tpl.DeletedAt != nil {
		return alarms.NotFoundf("template %s", id)
	}
	tpl.DeletedAt = &at
	tpl.UpdatedAt = at
	s.templates[id] = tpl
	return nil
}

// IncrementUsage adds n to the template's usage count.
func (s *TemplateStore) IncrementUsage(ctx context.Context, id string, n int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return alarms.NotFoundf("template %s", id)
	}
	tpl.UsageCount += n
	s.templates[id] = tpl
	return nil
}
