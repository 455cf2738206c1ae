package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alarm-engine/internal/eventing"

	"github.com/google/uuid"
)

// OutboxStore keeps outbox records in memory.
type OutboxStore struct {
	mu      sync.Mutex
	records map[string]*eventing.Record
}

// NewOutboxStore constructs an empty store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{records: make(map[string]*eventing.Record)}
}

// Insert stores env as pending.
func (s *OutboxStore) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Envelope.EventID == env.EventID {
			return rec.ID, nil
		}
	}
	id := uuid.NewString()
	s.records[id] = &eventing.Record{
		ID:        id,
		Envelope:  env,
		Status:    eventing.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

// ListPending returns pending records oldest first.
func (s *OutboxStore) ListPending(_ context.Context, limit int) ([]eventing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventing.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Status == eventing.StatusPending {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Envelope.OccurredAt.Before(out[j].Envelope.OccurredAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent marks a record delivered.
func (s *OutboxStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errors.New("outbox record not found")
	}
	rec.Status = eventing.StatusSent
	return nil
}

// MarkFailed records a failed attempt.
func (s *OutboxStore) MarkFailed(_ context.Context, id string, cause error, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errors.New("outbox record not found")
	}
	rec.Attempts++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if dead {
		rec.Status = eventing.StatusDead
	}
	return nil
}

// Get returns a copy of one record.
func (s *OutboxStore) Get(id string) (eventing.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return eventing.Record{}, false
	}
	return *rec, true
}
