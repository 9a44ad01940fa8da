package walkin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ehr/labtracker/pkg/apperror"
)

type Service struct {
	patients Repository
	now      func() time.Time
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients, now: time.Now}
}

// SetClock replaces the time source used to stamp registrations.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register validates p, stamps its creation time and assigns an id from the
// walk-in id space.
func (s *Service) Register(ctx context.Context, p *ExternalPatient) (*ExternalPatient, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)

	if p.FirstName == "" || p.LastName == "" {
		return nil, apperror.Validation("first_name and last_name are required")
	}
	if p.Phone == "" {
		return nil, apperror.Validation("phone is required")
	}
	if !p.Gender.Valid() {
		return nil, apperror.Validation("invalid gender: %q", p.Gender)
	}
	if p.Age < 0 {
		return nil, apperror.Validation("age must not be negative")
	}

	p.CreatedAt = s.now()
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, apperror.Internal("register external patient", err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*ExternalPatient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound("external patient %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal("get external patient", err)
	}
	return p, nil
}

// ListPatients returns walk-ins in registration order. A non-empty query
// keeps patients whose name, phone or ID number contains it, ignoring case.
func (s *Service) ListPatients(ctx context.Context, query string) ([]*ExternalPatient, error) {
	all, err := s.patients.List(ctx)
	if err != nil {
		return nil, apperror.Internal("list external patients", err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}

	var out []*ExternalPatient
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.FullName()), q) ||
			strings.Contains(p.Phone, q) ||
			strings.Contains(strings.ToLower(p.IDNumber), q) {
			out = append(out, p)
		}
	}
	return out, nil
}
