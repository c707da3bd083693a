package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
)

// SagaRunStore is an in-memory ports.SagaRunStore. Runs are copied on the
// way in and out so callers never share state with the store.
type SagaRunStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*domain.SagaRun
	byTrigger map[string]uuid.UUID
}

func NewSagaRunStore() *SagaRunStore {
	return &SagaRunStore{
		runs:      make(map[uuid.UUID]*domain.SagaRun),
		byTrigger: make(map[string]uuid.UUID),
	}
}

func triggerKey(sagaName, eventID string) string {
	return sagaName + "\x00" + eventID
}

func (s *SagaRunStore) Create(ctx context.Context, run *domain.SagaRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := triggerKey(run.SagaName, run.TriggerEventID)
	if _, ok := s.byTrigger[key]; ok {
		return ports.ErrAlreadyExists
	}
	if _, ok := s.runs[run.ID]; ok {
		return ports.ErrAlreadyExists
	}
	s.runs[run.ID] = run.Snapshot()
	s.byTrigger[key] = run.ID
	return nil
}

func (s *SagaRunStore) Update(ctx context.Context, run *domain.SagaRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("saga run %s not found", run.ID)
	}
	s.runs[run.ID] = run.Snapshot()
	return nil
}

func (s *SagaRunStore) Get(ctx context.Context, id uuid.UUID) (*domain.SagaRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return run.Snapshot(), nil
}

func (s *SagaRunStore) FindByTrigger(ctx context.Context, sagaName, eventID string) (*domain.SagaRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTrigger[triggerKey(sagaName, eventID)]
	if !ok {
		return nil, nil
	}
	return s.runs[id].Snapshot(), nil
}

// List returns matching runs, most recently started first.
func (s *SagaRunStore) List(ctx context.Context, filter ports.SagaRunFilter) ([]domain.SagaRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[domain.SagaStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var out []domain.SagaRun
	for _, run := range s.runs {
		if filter.TenantID != "" && run.TenantID != filter.TenantID {
			continue
		}
		if filter.SagaName != "" && run.SagaName != filter.SagaName {
			continue
		}
		if len(statuses) > 0 && !statuses[run.Status] {
			continue
		}
		out = append(out, *run.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
