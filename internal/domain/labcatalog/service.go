package labcatalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/labtracker/pkg/apperror"
)

type Service struct {
	tests Repository
}

func NewService(tests Repository) *Service {
	return &Service{tests: tests}
}

func validateTest(t *LabTest) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperror.Validation("name is required")
	}
	if !t.Category.Valid() {
		return apperror.Validation("invalid category: %s", t.Category)
	}
	if t.Price < 0 {
		return apperror.Validation("price must not be negative")
	}
	if t.TurnaroundHours < 0 {
		return apperror.Validation("turnaround_hours must not be negative")
	}
	return nil
}

func wrapRepoErr(err error, id string) error {
	if errors.Is(err, ErrNotFound) {
		return apperror.NotFound("lab test %s not found", id)
	}
	return apperror.Internal("lab test store", err)
}

// AddTest validates t and stores it under a newly assigned id.
func (s *Service) AddTest(ctx context.Context, t *LabTest) (*LabTest, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := validateTest(t); err != nil {
		return nil, err
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, apperror.Internal("create lab test", err)
	}
	return t, nil
}

// UpdateTest merges u into the stored test. Orders already placed keep the
// name and price they were created with.
func (s *Service) UpdateTest(ctx context.Context, id string, u LabTestUpdate) (*LabTest, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err, id)
	}
	u.Apply(t)
	if err := validateTest(t); err != nil {
		return nil, err
	}
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, wrapRepoErr(err, id)
	}
	return t, nil
}

func (s *Service) DeleteTest(ctx context.Context, id string) error {
	if err := s.tests.Delete(ctx, id); err != nil {
		return wrapRepoErr(err, id)
	}
	return nil
}

func (s *Service) GetTest(ctx context.Context, id string) (*LabTest, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err, id)
	}
	return t, nil
}

// ListByCategory returns the tests of one category in insertion order.
func (s *Service) ListByCategory(ctx context.Context, category Category) ([]*LabTest, error) {
	if !category.Valid() {
		return nil, apperror.Validation("invalid category: %s", category)
	}
	items, err := s.tests.List(ctx, category, false)
	if err != nil {
		return nil, apperror.Internal("list lab tests", err)
	}
	return items, nil
}

// ListTests returns the whole catalog, or only orderable tests when
// activeOnly is set.
func (s *Service) ListTests(ctx context.Context, activeOnly bool) ([]*LabTest, error) {
	items, err := s.tests.List(ctx, "", activeOnly)
	if err != nil {
		return nil, apperror.Internal("list lab tests", fmt.Errorf("active_only=%t: %w", activeOnly, err))
	}
	return items, nil
}
