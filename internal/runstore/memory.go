package runstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// MemoryStore keeps run records in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*models.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*models.RunRecord)}
}

func (s *MemoryStore) Create(_ context.Context, rec models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; ok {
		return fmt.Errorf("run %s already exists", rec.RunID)
	}
	ts := now()
	rec.CreatedAt = ts
	rec.UpdatedAt = ts
	s.runs[rec.RunID] = &rec
	return nil
}

func (s *MemoryStore) update(runID string, fn func(*models.RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	fn(rec)
	rec.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) UpdateState(_ context.Context, runID string, state models.RunState, stage, errDetails string) error {
	return s.update(runID, func(rec *models.RunRecord) {
		rec.State = state
		rec.Stage = stage
		if errDetails != "" {
			rec.ErrorDetails = errDetails
		}
	})
}

func (s *MemoryStore) RecordJob(_ context.Context, runID string, job models.Job) error {
	return s.update(runID, func(rec *models.RunRecord) {
		rec.Jobs = upsertJob(rec.Jobs, job)
	})
}

func (s *MemoryStore) SetArtifacts(_ context.Context, runID string, artifacts []string) error {
	return s.update(runID, func(rec *models.RunRecord) {
		rec.Artifacts = append([]string(nil), artifacts...)
	})
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	cp := *rec
	cp.Jobs = append([]models.Job(nil), rec.Jobs...)
	cp.Artifacts = append([]string(nil), rec.Artifacts...)
	return &cp, nil
}
