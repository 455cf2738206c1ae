package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

// OccurrenceStore is an in-memory occurrence repository. It enforces at most
// one open occurrence per rule.
type OccurrenceStore struct {
	mu    sync.RWMutex
	items map[string]alarms.AlarmOccurrence
	open  map[string]string
}

// NewOccurrenceStore constructs an empty store.
func NewOccurrenceStore() *OccurrenceStore {
	return &OccurrenceStore{
		items: make(map[string]alarms.AlarmOccurrence),
		open:  make(map[string]string),
	}
}

// Get loads an occurrence.
func (s *OccurrenceStore) Get(ctx context.Context, id string) (*alarms.AlarmOccurrence, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ, ok := s.items[id]
	if !ok {
		return nil, alarms.NotFoundf("occurrence %s", id)
	}
	out := occ.Clone()
	return &out, nil
}

// FindOpen returns the rule's open occurrence or nil.
func (s *OccurrenceStore) FindOpen(ctx context.Context, ruleID string) (*alarms.AlarmOccurrence, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[ruleID]
	if !ok {
		return nil, nil
	}
	out := s.items[id].Clone()
	return &out, nil
}

// Find returns occurrences matching filter, newest first.
func (s *OccurrenceStore) Find(ctx context.Context, filter application.OccurrenceFilter) ([]alarms.AlarmOccurrence, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]alarms.AlarmOccurrence, 0)
	for _, occ := range s.items {
		if matchOccurrence(occ, filter) {
			out = append(out, occ.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Create stores a new occurrence.
func (s *OccurrenceStore) Create(ctx context.Context, occ *alarms.AlarmOccurrence) error {
	_ = ctx
	if occ == nil {
		return errors.New("memory occurrence store: nil occurrence")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[occ.ID]; ok {
		return alarms.Conflictf("occurrence %s already exists", occ.ID)
	}
	if occ.Open() {
		if _, ok := s.open[occ.RuleID]; ok {
			return alarms.Conflictf("rule %s already has an open occurrence", occ.RuleID)
		}
		s.open[occ.RuleID] = occ.ID
	}
	s.items[occ.ID] = occ.Clone()
	return nil
}

// Update applies patch to an occurrence.
func (s *OccurrenceStore) Update(ctx context.Context, id string, patch alarms.OccurrencePatch) (*alarms.AlarmOccurrence, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.items[id]
	if !ok {
		return nil, alarms.NotFoundf("occurrence %s", id)
	}
	next := occ.Apply(patch)
	if occ.Open() && !next.Open() && s.open[occ.RuleID] == id {
		delete(s.open, occ.RuleID)
	}
	s.items[id] = next
	out := next.Clone()
	return &out, nil
}

func matchOccurrence(occ alarms.AlarmOccurrence, f application.OccurrenceFilter) bool {
	switch {
	case f.TenantID != "" && occ.TenantID != f.TenantID:
		return false
	case f.RuleID != "" && occ.RuleID != f.RuleID:
		return false
	case !f.From.IsZero() && occ.TriggeredAt.Before(f.From):
		return false
	case !f.To.IsZero() && occ.TriggeredAt.After(f.To):
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, state := range f.States {
		if occ.State == state {
			return true
		}
	}
	return false
}
