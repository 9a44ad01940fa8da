package walkin

import (
	"context"
	"fmt"
	"sync"
)

type memoryRepo struct {
	mu       sync.RWMutex
	seq      int
	patients []*ExternalPatient
	byID     map[string]*ExternalPatient
}

func NewMemoryRepository() Repository {
	return &memoryRepo{byID: make(map[string]*ExternalPatient)}
}

func (r *memoryRepo) Create(_ context.Context, p *ExternalPatient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	p.ID = fmt.Sprintf("EP%03d", r.seq)
	cp := *p
	r.patients = append(r.patients, &cp)
	r.byID[p.ID] = &cp
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*ExternalPatient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context) ([]*ExternalPatient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ExternalPatient, len(r.patients))
	for i, p := range r.patients {
		cp := *p
		result[i] = &cp
	}
	return result, nil
}
