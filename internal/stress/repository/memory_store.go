package repository

import (
	"context"
	"sync"

	appErr "stressjudge/pkg/errors"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []RunRecord
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveRun(ctx context.Context, rec RunRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.RunID == rec.RunID {
			return 0, appErr.Newf(appErr.PersistenceFailed, "run %s already saved", rec.RunID)
		}
	}
	s.nextID++
	rec.ID = s.nextID
	rec.TestDetails = append([]byte(nil), rec.TestDetails...)
	rec.FilesSnapshot = append([]byte(nil), rec.FilesSnapshot...)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.RunID == runID {
			return rec, nil
		}
	}
	return RunRecord{}, appErr.Newf(appErr.RunNotFound, "run %s not found", runID)
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[i]
		rec.TestDetails = nil
		rec.FilesSnapshot = nil
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
