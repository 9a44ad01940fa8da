package labcatalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories for an unknown test id.
var ErrNotFound = errors.New("lab test not found")

type Repository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id string) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	Delete(ctx context.Context, id string) error
	// List returns tests in insertion order. An empty category matches all.
	List(ctx context.Context, category Category, activeOnly bool) ([]*LabTest, error)
}
