package walkin

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("external patient not found")

type Repository interface {
	Create(ctx context.Context, p *ExternalPatient) error
	GetByID(ctx context.Context, id string) (*ExternalPatient, error)
	// List returns patients in registration order.
	List(ctx context.Context) ([]*ExternalPatient, error)
}
