package labrequest

import "time"

type PatientType string

const (
	PatientInternal PatientType = "internal"
	PatientExternal PatientType = "external"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
	PriorityStat   Priority = "stat"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPartial  PaymentStatus = "partial"
	PaymentComplete PaymentStatus = "complete"
)

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentMpesa     PaymentMethod = "mpesa"
	PaymentCard      PaymentMethod = "card"
	PaymentInsurance PaymentMethod = "insurance"
	PaymentCredit    PaymentMethod = "credit"
)

// OrderStatus is the lifecycle state of a single ordered test.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSampleCollected OrderStatus = "sample_collected"
	StatusProcessing      OrderStatus = "processing"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
)

type ResultFlag string

const (
	FlagNormal   ResultFlag = "normal"
	FlagLow      ResultFlag = "low"
	FlagHigh     ResultFlag = "high"
	FlagCritical ResultFlag = "critical"
)

var (
	validPriorities     = map[Priority]bool{PriorityNormal: true, PriorityUrgent: true, PriorityStat: true}
	validPaymentStatus  = map[PaymentStatus]bool{PaymentPending: true, PaymentPartial: true, PaymentComplete: true}
	validPaymentMethods = map[PaymentMethod]bool{PaymentCash: true, PaymentMpesa: true, PaymentCard: true, PaymentInsurance: true, PaymentCredit: true}
	validFlags          = map[ResultFlag]bool{FlagNormal: true, FlagLow: true, FlagHigh: true, FlagCritical: true}
)

// TestResult is one measured parameter of a completed test.
type TestResult struct {
	Parameter      string     `json:"parameter"`
	Value          string     `json:"value"`
	Unit           string     `json:"unit"`
	ReferenceRange string     `json:"reference_range"`
	Flag           ResultFlag `json:"flag,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// TestOrder is one ordered test inside a LabRequest. TestName and Price are
// copied from the catalog when the request is created and never refreshed.
type TestOrder struct {
	ID                  string       `json:"id"`
	TestID              string       `json:"test_id"`
	TestName            string       `json:"test_name"`
	Price               float64      `json:"price"`
	Status              OrderStatus  `json:"status"`
	RequestedAt         time.Time    `json:"requested_at"`
	SampleCollectedAt   *time.Time   `json:"sample_collected_at,omitempty"`
	SampleCollectedBy   string       `json:"sample_collected_by,omitempty"`
	ProcessingStartedAt *time.Time   `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
	Results             []TestResult `json:"results,omitempty"`
	Notes               string       `json:"notes,omitempty"`
}

// LabRequest maps to the lab_request table. Orders live in the tests JSONB
// column.
type LabRequest struct {
	ID                    string        `db:"id" json:"id"`
	PatientID             string        `db:"patient_id" json:"patient_id"`
	PatientName           string        `db:"patient_name" json:"patient_name"`
	PatientType           PatientType   `db:"patient_type" json:"patient_type"`
	DoctorID              string        `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorName            string        `db:"doctor_name" json:"doctor_name,omitempty"`
	Tests                 []TestOrder   `db:"tests" json:"tests"`
	Priority              Priority      `db:"priority" json:"priority"`
	Branch                string        `db:"branch" json:"branch"`
	TotalAmount           float64       `db:"total_amount" json:"total_amount"`
	PaymentStatus         PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod         PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	InsuranceProvider     string        `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsurancePolicyNumber string        `db:"insurance_policy_number" json:"insurance_policy_number,omitempty"`
	InsuranceApprovalCode string        `db:"insurance_approval_code" json:"insurance_approval_code,omitempty"`
	Notes                 string        `db:"notes" json:"notes,omitempty"`
	VersionID             int           `db:"version_id" json:"version_id"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// Order returns the order with the given id.
func (r *LabRequest) Order(orderID string) (*TestOrder, bool) {
	for i := range r.Tests {
		if r.Tests[i].ID == orderID {
			return &r.Tests[i], true
		}
	}
	return nil, false
}

// HasStatus reports whether at least one order is in status s.
func (r *LabRequest) HasStatus(s OrderStatus) bool {
	for _, t := range r.Tests {
		if t.Status == s {
			return true
		}
	}
	return false
}

func (r *LabRequest) clearInsurance() {
	r.InsuranceProvider = ""
	r.InsurancePolicyNumber = ""
	r.InsuranceApprovalCode = ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Clone returns a deep copy so stored requests never alias caller memory.
func (r *LabRequest) Clone() *LabRequest {
	cp := *r
	cp.Tests = make([]TestOrder, len(r.Tests))
	for i, t := range r.Tests {
		t.SampleCollectedAt = cloneTime(t.SampleCollectedAt)
		t.ProcessingStartedAt = cloneTime(t.ProcessingStartedAt)
		t.CompletedAt = cloneTime(t.CompletedAt)
		if t.Results != nil {
			t.Results = append([]TestResult(nil), t.Results...)
		}
		cp.Tests[i] = t
	}
	return &cp
}

// CreateRequestInput is the body of a new lab request.
type CreateRequestInput struct {
	PatientID             string        `json:"patient_id"`
	PatientName           string        `json:"patient_name"`
	PatientType           PatientType   `json:"patient_type"`
	DoctorID              string        `json:"doctor_id"`
	DoctorName            string        `json:"doctor_name"`
	TestIDs               []string      `json:"test_ids"`
	Priority              Priority      `json:"priority"`
	Branch                string        `json:"branch"`
	PaymentMethod         PaymentMethod `json:"payment_method"`
	InsuranceProvider     string        `json:"insurance_provider"`
	InsurancePolicyNumber string        `json:"insurance_policy_number"`
	InsuranceApprovalCode string        `json:"insurance_approval_code"`
	Notes                 string        `json:"notes"`
}

// RequestUpdate patches request-level fields. Nil fields are left unchanged.
// Test orders are only changed through the lifecycle operations.
type RequestUpdate struct {
	Priority              *Priority      `json:"priority,omitempty"`
	PaymentStatus         *PaymentStatus `json:"payment_status,omitempty"`
	PaymentMethod         *PaymentMethod `json:"payment_method,omitempty"`
	InsuranceProvider     *string        `json:"insurance_provider,omitempty"`
	InsurancePolicyNumber *string        `json:"insurance_policy_number,omitempty"`
	InsuranceApprovalCode *string        `json:"insurance_approval_code,omitempty"`
	DoctorID              *string        `json:"doctor_id,omitempty"`
	DoctorName            *string        `json:"doctor_name,omitempty"`
	Notes                 *string        `json:"notes,omitempty"`
}

func (u RequestUpdate) touchesInsurance() bool {
	return u.InsuranceProvider != nil || u.InsurancePolicyNumber != nil || u.InsuranceApprovalCode != nil
}
