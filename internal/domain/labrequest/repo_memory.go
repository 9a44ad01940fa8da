package labrequest

import (
	"context"
	"fmt"
	"sync"
)

type memoryRepo struct {
	mu       sync.RWMutex
	seq      int
	orderSeq int
	ids      []string
	requests map[string]*LabRequest
}

// NewMemoryRepository returns the volatile request store used when no
// database is configured.
func NewMemoryRepository() Repository {
	return &memoryRepo{requests: make(map[string]*LabRequest)}
}

func (m *memoryRepo) Create(_ context.Context, r *LabRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	r.ID = fmt.Sprintf("LR%03d", m.seq)
	for i := range r.Tests {
		m.orderSeq++
		r.Tests[i].ID = fmt.Sprintf("T%03d", m.orderSeq)
	}
	r.VersionID = 1

	m.requests[r.ID] = r.Clone()
	m.ids = append(m.ids, r.ID)
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (*LabRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memoryRepo) Update(_ context.Context, r *LabRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != r.VersionID {
		return ErrVersionConflict
	}
	r.VersionID++
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *memoryRepo) ListByPatient(ctx context.Context, patientID string) ([]*LabRequest, error) {
	return m.Find(ctx, Criteria{PatientID: patientID})
}

func (m *memoryRepo) Find(_ context.Context, c Criteria) ([]*LabRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*LabRequest
	for _, id := range m.ids {
		r := m.requests[id]
		if c.matches(r) {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}
