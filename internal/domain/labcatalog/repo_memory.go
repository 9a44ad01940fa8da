package labcatalog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryRepo struct {
	mu    sync.RWMutex
	seq   int
	order []string
	tests map[string]*LabTest
}

// NewMemoryRepository returns a volatile, insertion-ordered catalog store.
func NewMemoryRepository() Repository {
	return &memoryRepo{tests: make(map[string]*LabTest)}
}

func (r *memoryRepo) Create(_ context.Context, t *LabTest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	t.ID = fmt.Sprintf("LT%03d", r.seq)
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	cp := *t
	r.tests[t.ID] = &cp
	r.order = append(r.order, t.ID)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*LabTest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memoryRepo) Update(_ context.Context, t *LabTest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tests[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now()
	cp := *t
	r.tests[t.ID] = &cp
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tests[id]; !ok {
		return ErrNotFound
	}
	delete(r.tests, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memoryRepo) List(_ context.Context, category Category, activeOnly bool) ([]*LabTest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*LabTest, 0, len(r.order))
	for _, id := range r.order {
		t := r.tests[id]
		if category != "" && t.Category != category {
			continue
		}
		if activeOnly && !t.Active {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}
