package labrequest

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("lab request not found")
	ErrVersionConflict = errors.New("lab request was modified concurrently")
)

// Criteria are the coarse filters a repository evaluates itself. Zero
// values match everything.
type Criteria struct {
	PatientID   string
	Branch      string // case-insensitive
	PatientType PatientType
	Status      OrderStatus // at least one order in this status
	CreatedFrom *time.Time  // inclusive
	CreatedTo   *time.Time  // exclusive
}

func (c Criteria) matches(r *LabRequest) bool {
	if c.PatientID != "" && r.PatientID != c.PatientID {
		return false
	}
	if c.Branch != "" && !equalFold(r.Branch, c.Branch) {
		return false
	}
	if c.PatientType != "" && r.PatientType != c.PatientType {
		return false
	}
	if c.Status != "" && !r.HasStatus(c.Status) {
		return false
	}
	if c.CreatedFrom != nil && r.CreatedAt.Before(*c.CreatedFrom) {
		return false
	}
	if c.CreatedTo != nil && !r.CreatedAt.Before(*c.CreatedTo) {
		return false
	}
	return true
}

type Repository interface {
	// Create assigns ids to the request and its orders and stores it with
	// version 1.
	Create(ctx context.Context, r *LabRequest) error
	GetByID(ctx context.Context, id string) (*LabRequest, error)
	// Update stores r if the stored version still equals r.VersionID and
	// then increments r.VersionID. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, r *LabRequest) error
	ListByPatient(ctx context.Context, patientID string) ([]*LabRequest, error)
	// Find returns matching requests in creation order.
	Find(ctx context.Context, c Criteria) ([]*LabRequest, error)
}
