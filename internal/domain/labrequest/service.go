package labrequest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/domain/labcatalog"
	"github.com/ehr/labtracker/internal/domain/walkin"
	"github.com/ehr/labtracker/pkg/apperror"
)

// Catalog resolves orderable tests at request creation.
type Catalog interface {
	GetTest(ctx context.Context, id string) (*labcatalog.LabTest, error)
}

// ExternalPatients resolves walk-in patients.
type ExternalPatients interface {
	GetPatient(ctx context.Context, id string) (*walkin.ExternalPatient, error)
}

// PatientDirectory resolves internal (clinical) patients to a display name.
// It returns an apperror NotFound for unknown ids.
type PatientDirectory interface {
	PatientName(ctx context.Context, id string) (string, error)
}

// Observer is notified of lifecycle events; metrics implement it.
type Observer interface {
	LabRequestCreated(patientType, priority string)
	TestOrderTransition(from, to string)
}

type nopObserver struct{}

func (nopObserver) LabRequestCreated(string, string)   {}
func (nopObserver) TestOrderTransition(string, string) {}

type Service struct {
	requests      Repository
	catalog       Catalog
	walkins       ExternalPatients
	directory     PatientDirectory
	locks         *keyedLocker
	observer      Observer
	publisher     Publisher
	logger        zerolog.Logger
	now           func() time.Time
	loc           *time.Location
	defaultBranch string
}

func NewService(requests Repository, catalog Catalog, walkins ExternalPatients) *Service {
	return &Service{
		requests:  requests,
		catalog:   catalog,
		walkins:   walkins,
		locks:     newKeyedLocker(),
		observer:  nopObserver{},
		publisher: nopPublisher{},
		logger:    zerolog.Nop(),
		now:       time.Now,
		loc:       time.Local,
	}
}

// SetPatientDirectory enables existence checks for internal patients.
func (s *Service) SetPatientDirectory(d PatientDirectory) { s.directory = d }

func (s *Service) SetObserver(o Observer) { s.observer = o }

func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetDefaultBranch sets the branch used when neither the input nor the
// caller names one.
func (s *Service) SetDefaultBranch(branch string) { s.defaultBranch = branch }

func (s *Service) Now() time.Time { return s.now() }

// SetLocation sets the time zone calendar windows (today, week) use.
func (s *Service) SetLocation(loc *time.Location) { s.loc = loc }

func (s *Service) Location() *time.Location { return s.loc }

func wrapRepoErr(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("lab request %s not found", id)
	case errors.Is(err, ErrVersionConflict):
		return apperror.Conflict("lab request %s was modified concurrently, reload and retry", id)
	}
	return apperror.Internal("lab request store", err)
}

// -- Creation --

// CreateRequest snapshots the selected catalog tests into pending orders and
// stores the new request. Every selected id must name an active catalog
// test.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*LabRequest, error) {
	if err := s.validateCreate(ctx, &in); err != nil {
		return nil, err
	}

	now := s.now()
	r := &LabRequest{
		PatientID:             in.PatientID,
		PatientName:           in.PatientName,
		PatientType:           in.PatientType,
		DoctorID:              in.DoctorID,
		DoctorName:            in.DoctorName,
		Priority:              in.Priority,
		Branch:                in.Branch,
		PaymentStatus:         PaymentPending,
		PaymentMethod:         in.PaymentMethod,
		InsuranceProvider:     in.InsuranceProvider,
		InsurancePolicyNumber: in.InsurancePolicyNumber,
		InsuranceApprovalCode: in.InsuranceApprovalCode,
		Notes:                 in.Notes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	seen := make(map[string]bool, len(in.TestIDs))
	for _, testID := range in.TestIDs {
		if seen[testID] {
			return nil, apperror.InvalidSelection("lab test %s selected more than once", testID)
		}
		seen[testID] = true

		t, err := s.catalog.GetTest(ctx, testID)
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.InvalidSelection("unknown lab test %s", testID)
		}
		if err != nil {
			return nil, err
		}
		if !t.Active {
			return nil, apperror.InvalidSelection("lab test %s (%s) is not active", testID, t.Name)
		}
		r.Tests = append(r.Tests, TestOrder{
			TestID:      t.ID,
			TestName:    t.Name,
			Price:       t.Price,
			Status:      StatusPending,
			RequestedAt: now,
		})
		r.TotalAmount += t.Price
	}

	if err := s.requests.Create(ctx, r); err != nil {
		return nil, apperror.Internal("create lab request", err)
	}

	s.observer.LabRequestCreated(string(r.PatientType), string(r.Priority))
	s.publisher.Publish(ctx, Change{Kind: ChangeCreated, Request: r.Clone()})
	s.logger.Info().
		Str("request_id", r.ID).
		Str("patient_id", r.PatientID).
		Str("branch", r.Branch).
		Int("tests", len(r.Tests)).
		Float64("total_amount", r.TotalAmount).
		Msg("lab request created")
	return r, nil
}

func (s *Service) validateCreate(ctx context.Context, in *CreateRequestInput) error {
	in.PatientID = strings.TrimSpace(in.PatientID)
	if in.PatientID == "" {
		return apperror.Validation("patient_id is required")
	}
	if len(in.TestIDs) == 0 {
		return apperror.InvalidSelection("at least one lab test must be selected")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !validPriorities[in.Priority] {
		return apperror.Validation("invalid priority: %s", in.Priority)
	}
	if in.PaymentMethod != "" && !validPaymentMethods[in.PaymentMethod] {
		return apperror.Validation("invalid payment_method: %s", in.PaymentMethod)
	}
	if in.PaymentMethod != PaymentInsurance &&
		(in.InsuranceProvider != "" || in.InsurancePolicyNumber != "" || in.InsuranceApprovalCode != "") {
		return apperror.Validation("insurance details require payment_method insurance")
	}
	if strings.TrimSpace(in.Branch) == "" || passThrough(in.Branch) {
		in.Branch = s.defaultBranch
	}
	if in.Branch == "" {
		return apperror.Validation("branch is required")
	}

	switch in.PatientType {
	case PatientExternal:
		p, err := s.walkins.GetPatient(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if in.PatientName == "" {
			in.PatientName = p.FullName()
		}
	case PatientInternal:
		if s.directory != nil {
			name, err := s.directory.PatientName(ctx, in.PatientID)
			if err != nil {
				return err
			}
			if in.PatientName == "" {
				in.PatientName = name
			}
		}
	default:
		return apperror.Validation("invalid patient_type: %q", in.PatientType)
	}
	if in.PatientName == "" {
		return apperror.Validation("patient_name is required")
	}
	return nil
}

// -- Lifecycle --

// mutate loads the request under its lock, applies fn and stores the result
// with a refreshed updated_at. Order transitions are reported once the write
// has succeeded.
func (s *Service) mutate(ctx context.Context, id string, fn func(r *LabRequest, now time.Time) error) (*LabRequest, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, apperror.Internal("acquire request lock", err)
	}
	defer unlock()

	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err, id)
	}
	before := make(map[string]OrderStatus, len(r.Tests))
	for _, t := range r.Tests {
		before[t.ID] = t.Status
	}

	now := s.now()
	if err := fn(r, now); err != nil {
		return nil, err
	}
	r.UpdatedAt = now
	if err := s.requests.Update(ctx, r); err != nil {
		return nil, wrapRepoErr(err, id)
	}

	snapshot := r.Clone()
	transitions := 0
	for _, t := range r.Tests {
		if from := before[t.ID]; from != t.Status {
			transitions++
			s.observer.TestOrderTransition(string(from), string(t.Status))
			s.publisher.Publish(ctx, Change{
				Kind:    ChangeTransition,
				Request: snapshot,
				OrderID: t.ID,
				From:    from,
				To:      t.Status,
			})
			s.logger.Debug().
				Str("request_id", r.ID).
				Str("order_id", t.ID).
				Str("from", string(from)).
				Str("to", string(t.Status)).
				Msg("test order transition")
		}
	}
	if transitions == 0 {
		s.publisher.Publish(ctx, Change{Kind: ChangeUpdated, Request: snapshot})
	}
	return r, nil
}

// advance moves one order of r to the given status.
func advance(r *LabRequest, orderID string, to OrderStatus) (*TestOrder, error) {
	o, ok := r.Order(orderID)
	if !ok {
		return nil, apperror.NotFound("test order %s not found on lab request %s", orderID, r.ID)
	}
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	o.Status = to
	return o, nil
}

// CollectSample moves a pending order to sample_collected.
func (s *Service) CollectSample(ctx context.Context, requestID, orderID, collectedBy string) (*LabRequest, error) {
	collectedBy = strings.TrimSpace(collectedBy)
	if collectedBy == "" {
		return nil, apperror.Validation("collected_by is required")
	}
	return s.mutate(ctx, requestID, func(r *LabRequest, now time.Time) error {
		o, err := advance(r, orderID, StatusSampleCollected)
		if err != nil {
			return err
		}
		o.SampleCollectedAt = &now
		o.SampleCollectedBy = collectedBy
		return nil
	})
}

// StartProcessing moves a sample_collected order to processing.
func (s *Service) StartProcessing(ctx context.Context, requestID, orderID string) (*LabRequest, error) {
	return s.mutate(ctx, requestID, func(r *LabRequest, now time.Time) error {
		o, err := advance(r, orderID, StatusProcessing)
		if err != nil {
			return err
		}
		o.ProcessingStartedAt = &now
		return nil
	})
}

func validateResults(results []TestResult) error {
	if len(results) == 0 {
		return apperror.Validation("results must not be empty")
	}
	for i, res := range results {
		if strings.TrimSpace(res.Parameter) == "" {
			return apperror.Validation("results[%d]: parameter is required", i)
		}
		if res.Flag != "" && !validFlags[res.Flag] {
			return apperror.Validation("results[%d]: invalid flag %q", i, res.Flag)
		}
	}
	return nil
}

// AddTestResults stores results on a processing order and completes it.
func (s *Service) AddTestResults(ctx context.Context, requestID, orderID string, results []TestResult) (*LabRequest, error) {
	if err := validateResults(results); err != nil {
		return nil, err
	}
	return s.mutate(ctx, requestID, func(r *LabRequest, now time.Time) error {
		o, err := advance(r, orderID, StatusCompleted)
		if err != nil {
			return err
		}
		o.CompletedAt = &now
		o.Results = append([]TestResult(nil), results...)
		return nil
	})
}

// CancelRequest cancels every order that has not reached a terminal state.
// Completed orders keep their results.
func (s *Service) CancelRequest(ctx context.Context, requestID string) (*LabRequest, error) {
	r, err := s.mutate(ctx, requestID, func(r *LabRequest, _ time.Time) error {
		cancelled := 0
		for i := range r.Tests {
			if r.Tests[i].Status.Terminal() {
				continue
			}
			if _, err := advance(r, r.Tests[i].ID, StatusCancelled); err != nil {
				return err
			}
			cancelled++
		}
		if cancelled == 0 {
			return apperror.InvalidTransition("lab request %s has no test left to cancel", r.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", r.ID).Msg("lab request cancelled")
	return r, nil
}

// UpdateRequest applies u to the request-level fields.
func (s *Service) UpdateRequest(ctx context.Context, requestID string, u RequestUpdate) (*LabRequest, error) {
	if u.Priority != nil && !validPriorities[*u.Priority] {
		return nil, apperror.Validation("invalid priority: %s", *u.Priority)
	}
	if u.PaymentStatus != nil && !validPaymentStatus[*u.PaymentStatus] {
		return nil, apperror.Validation("invalid payment_status: %s", *u.PaymentStatus)
	}
	if u.PaymentMethod != nil && *u.PaymentMethod != "" && !validPaymentMethods[*u.PaymentMethod] {
		return nil, apperror.Validation("invalid payment_method: %s", *u.PaymentMethod)
	}

	return s.mutate(ctx, requestID, func(r *LabRequest, _ time.Time) error {
		if u.Priority != nil {
			r.Priority = *u.Priority
		}
		if u.PaymentStatus != nil {
			r.PaymentStatus = *u.PaymentStatus
		}
		if u.PaymentMethod != nil {
			r.PaymentMethod = *u.PaymentMethod
			if r.PaymentMethod != PaymentInsurance {
				r.clearInsurance()
			}
		}
		if u.touchesInsurance() {
			if r.PaymentMethod != PaymentInsurance {
				return apperror.Validation("insurance details require payment_method insurance")
			}
			if u.InsuranceProvider != nil {
				r.InsuranceProvider = *u.InsuranceProvider
			}
			if u.InsurancePolicyNumber != nil {
				r.InsurancePolicyNumber = *u.InsurancePolicyNumber
			}
			if u.InsuranceApprovalCode != nil {
				r.InsuranceApprovalCode = *u.InsuranceApprovalCode
			}
		}
		if u.DoctorID != nil {
			r.DoctorID = *u.DoctorID
		}
		if u.DoctorName != nil {
			r.DoctorName = *u.DoctorName
		}
		if u.Notes != nil {
			r.Notes = *u.Notes
		}
		return nil
	})
}

// -- Queries --

func (s *Service) GetRequest(ctx context.Context, id string) (*LabRequest, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err, id)
	}
	return r, nil
}

// ListByPatient returns a patient's requests in creation order.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]*LabRequest, error) {
	items, err := s.requests.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperror.Internal("list lab requests by patient", err)
	}
	return items, nil
}

// ListByStatus returns every request with at least one order in status.
func (s *Service) ListByStatus(ctx context.Context, status OrderStatus) ([]*LabRequest, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid status: %s", status)
	}
	items, err := s.requests.Find(ctx, Criteria{Status: status})
	if err != nil {
		return nil, apperror.Internal("list lab requests by status", err)
	}
	return items, nil
}

// Search narrows in the repository first and then applies the full filter.
func (s *Service) Search(ctx context.Context, f Filter) ([]*LabRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.Validation("invalid status: %s", f.Status)
	}
	if !passThrough(f.PatientType) && f.PatientType != string(PatientInternal) && f.PatientType != string(PatientExternal) {
		return nil, apperror.Validation("invalid patient_type: %s", f.PatientType)
	}
	now := s.now()
	items, err := s.requests.Find(ctx, f.Criteria(now))
	if err != nil {
		return nil, apperror.Internal("search lab requests", err)
	}
	return f.Apply(items, now), nil
}

// Summarize aggregates the requests matching f.
func (s *Service) Summarize(ctx context.Context, f Filter) (Summary, error) {
	items, err := s.Search(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(items), nil
}
