// Package sandbox loads demo data for development and UI walkthroughs: the
// reference test catalog, a couple of walk-in patients, two worked lab
// requests and optionally a reproducible batch of synthetic requests. All
// data goes through the domain services so it obeys the same validation and
// state machine as live traffic.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/ehr/labtracker/internal/domain/labcatalog"
	"github.com/ehr/labtracker/internal/domain/labrequest"
	"github.com/ehr/labtracker/internal/domain/walkin"
)

// SeedConfig controls the synthetic part of a seed run. The reference data
// is always loaded.
type SeedConfig struct {
	SyntheticRequests int      `json:"synthetic_requests"`
	Branches          []string `json:"branches,omitempty"`
	Seed              int64    `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		SyntheticRequests: 20,
		Branches:          DefaultBranches,
	}
}

// DefaultBranches are the hospital sites demo requests are spread over.
var DefaultBranches = []string{"Fedha", "Utawala", "Machakos", "Tassia", "Kitengela"}

// SeedResult summarizes a seed run.
type SeedResult struct {
	LabTests         int           `json:"lab_tests"`
	ExternalPatients int           `json:"external_patients"`
	LabRequests      int           `json:"lab_requests"`
	Duration         time.Duration `json:"duration"`
}

// -- Reference data --

var referenceCatalog = []labcatalog.LabTest{
	{Name: "Complete Blood Count (CBC)", Category: labcatalog.CategoryHematology, Price: 1200, TurnaroundHours: 2, SampleType: "Blood", Active: true},
	{Name: "Lipid Profile", Category: labcatalog.CategoryBiochemistry, Price: 1500, TurnaroundHours: 4, RequiresFasting: true, SampleType: "Blood", Active: true},
	{Name: "Liver Function Test", Category: labcatalog.CategoryBiochemistry, Price: 1800, TurnaroundHours: 4, RequiresFasting: true, SampleType: "Blood", Active: true},
	{Name: "Urinalysis", Category: labcatalog.CategoryUrinalysis, Price: 800, TurnaroundHours: 1, SampleType: "Urine", Active: true},
	{Name: "Blood Glucose", Category: labcatalog.CategoryBiochemistry, Price: 500, TurnaroundHours: 1, RequiresFasting: true, SampleType: "Blood", Active: true},
	{Name: "Thyroid Function Test", Category: labcatalog.CategoryImmunology, Price: 2500, TurnaroundHours: 24, SampleType: "Blood", Active: true},
	{Name: "HbA1c", Category: labcatalog.CategoryBiochemistry, Price: 1800, TurnaroundHours: 4, SampleType: "Blood", Active: true},
	{Name: "Chest X-Ray", Category: labcatalog.CategoryImaging, Price: 2000, TurnaroundHours: 1, SampleType: "N/A", Active: true},
	{Name: "Urine Culture", Category: labcatalog.CategoryMicrobiology, Price: 1500, TurnaroundHours: 72, SampleType: "Urine", Active: true},
	{Name: "Stool Analysis", Category: labcatalog.CategoryMicrobiology, Price: 1200, TurnaroundHours: 24, SampleType: "Stool", Active: true},
}

var referenceWalkins = []walkin.ExternalPatient{
	{FirstName: "Grace", LastName: "Muthoni", Gender: walkin.GenderFemale, Age: 35, Phone: "0712 345 678",
		Email: "grace.muthoni@example.com", IDNumber: "12345678", ReferredBy: "Dr. James Mwangi"},
	{FirstName: "Samuel", LastName: "Otieno", Gender: walkin.GenderMale, Age: 42, Phone: "0723 456 789", IDNumber: "23456789"},
}

// demoPatients are the internal (clinical) patients known to the demo
// directory.
var demoPatients = map[string]string{
	"P001": "John Kamau",
	"P002": "Mary Wanjiru",
	"P003": "David Ochieng",
	"P004": "Esther Achieng",
	"P005": "Peter Njoroge",
}

var demoDoctors = []struct{ ID, Name string }{
	{"D001", "Dr. Sarah Williams"},
	{"D002", "Dr. Michael Chen"},
	{"D003", "Dr. James Mwangi"},
}

var demoTechs = []string{"Lab Tech Jane", "Lab Tech David", "Lab Tech Amina"}

// DemoDirectory returns a patient directory holding the demo internal
// patients.
func DemoDirectory() *labrequest.StaticDirectory {
	return labrequest.NewStaticDirectory(demoPatients)
}

// -- Seeder --

// Services are the domain services a Seeder writes through.
type Services struct {
	Catalog  *labcatalog.Service
	Walkins  *walkin.Service
	Requests *labrequest.Service
}

type Seeder struct {
	svc    Services
	config SeedConfig
	gen    *DataGenerator
}

// NewSeeder creates a Seeder. A zero config.Seed picks a time-based seed.
func NewSeeder(svc Services, config SeedConfig) *Seeder {
	if len(config.Branches) == 0 {
		config.Branches = DefaultBranches
	}
	return &Seeder{svc: svc, config: config, gen: NewDataGenerator(config.Seed)}
}

// Seed loads the reference data followed by the synthetic requests.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result, err := s.SeedReference(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.SeedSynthetic(ctx, s.config.SyntheticRequests)
	result.LabRequests += n
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, nil
}

// SeedReference loads the fixed catalog, walk-ins and worked requests.
func (s *Seeder) SeedReference(ctx context.Context) (*SeedResult, error) {
	result := &SeedResult{}

	byName := make(map[string]string, len(referenceCatalog))
	for _, lt := range referenceCatalog {
		t := lt
		if _, err := s.svc.Catalog.AddTest(ctx, &t); err != nil {
			return nil, fmt.Errorf("seed lab test %s: %w", lt.Name, err)
		}
		byName[t.Name] = t.ID
		result.LabTests++
	}

	for _, p := range referenceWalkins {
		ep := p
		if _, err := s.svc.Walkins.Register(ctx, &ep); err != nil {
			return nil, fmt.Errorf("seed walk-in %s: %w", p.FullName(), err)
		}
		result.ExternalPatients++
	}

	n, err := s.seedWorkedRequests(ctx, byName)
	if err != nil {
		return nil, err
	}
	result.LabRequests += n
	return result, nil
}

// SeedSynthetic creates n generated requests against whatever active tests
// and walk-ins are currently registered. It returns how many were created
// before any error.
func (s *Seeder) SeedSynthetic(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	tests, err := s.svc.Catalog.ListTests(ctx, true)
	if err != nil {
		return 0, err
	}
	if len(tests) == 0 {
		return 0, fmt.Errorf("no active lab tests to order")
	}
	testIDs := make([]string, len(tests))
	for i, t := range tests {
		testIDs[i] = t.ID
	}
	walkins, err := s.svc.Walkins.ListPatients(ctx, "")
	if err != nil {
		return 0, err
	}
	walkinIDs := make([]string, len(walkins))
	for i, p := range walkins {
		walkinIDs[i] = p.ID
	}

	for i := 0; i < n; i++ {
		if err := s.seedSynthetic(ctx, testIDs, walkinIDs); err != nil {
			return i, fmt.Errorf("seed synthetic request %d: %w", i+1, err)
		}
	}
	return n, nil
}

// seedWorkedRequests creates a fully reported, insurance-paid request and a
// request waiting at the bench.
func (s *Seeder) seedWorkedRequests(ctx context.Context, byName map[string]string) (int, error) {
	req := s.svc.Requests

	paid, err := req.CreateRequest(ctx, labrequest.CreateRequestInput{
		PatientID:             "P001",
		PatientName:           demoPatients["P001"],
		PatientType:           labrequest.PatientInternal,
		DoctorID:              "D001",
		DoctorName:            "Dr. Sarah Williams",
		TestIDs:               []string{byName["Complete Blood Count (CBC)"], byName["Blood Glucose"]},
		Branch:                "Fedha",
		PaymentMethod:         labrequest.PaymentInsurance,
		InsuranceProvider:     "SHA",
		InsurancePolicyNumber: "SHA12345678",
	})
	if err != nil {
		return 0, fmt.Errorf("seed reported request: %w", err)
	}
	results := [][]labrequest.TestResult{
		{
			{Parameter: "WBC", Value: "7.2", Unit: "x10^9/L", ReferenceRange: "4.0-11.0", Flag: labrequest.FlagNormal},
			{Parameter: "RBC", Value: "4.8", Unit: "x10^12/L", ReferenceRange: "4.5-5.5", Flag: labrequest.FlagNormal},
			{Parameter: "Hemoglobin", Value: "14.2", Unit: "g/dL", ReferenceRange: "13.5-17.5", Flag: labrequest.FlagNormal},
			{Parameter: "Hematocrit", Value: "42", Unit: "%", ReferenceRange: "41-50", Flag: labrequest.FlagNormal},
			{Parameter: "Platelets", Value: "250", Unit: "x10^9/L", ReferenceRange: "150-450", Flag: labrequest.FlagNormal},
		},
		{
			{Parameter: "Fasting Glucose", Value: "95", Unit: "mg/dL", ReferenceRange: "70-100", Flag: labrequest.FlagNormal},
		},
	}
	for i, o := range paid.Tests {
		if err := s.complete(ctx, paid.ID, o.ID, "Lab Tech Jane", results[i]); err != nil {
			return 0, err
		}
	}
	complete := labrequest.PaymentComplete
	if _, err := req.UpdateRequest(ctx, paid.ID, labrequest.RequestUpdate{PaymentStatus: &complete}); err != nil {
		return 0, fmt.Errorf("seed payment: %w", err)
	}

	bench, err := req.CreateRequest(ctx, labrequest.CreateRequestInput{
		PatientID:   "P005",
		PatientName: demoPatients["P005"],
		PatientType: labrequest.PatientInternal,
		DoctorID:    "D002",
		DoctorName:  "Dr. Michael Chen",
		TestIDs:     []string{byName["Lipid Profile"], byName["Liver Function Test"]},
		Branch:      "Fedha",
	})
	if err != nil {
		return 0, fmt.Errorf("seed bench request: %w", err)
	}
	for _, o := range bench.Tests {
		if _, err := req.CollectSample(ctx, bench.ID, o.ID, "Lab Tech David"); err != nil {
			return 0, fmt.Errorf("seed sample collection: %w", err)
		}
	}
	return 2, nil
}

func (s *Seeder) complete(ctx context.Context, requestID, orderID, tech string, results []labrequest.TestResult) error {
	req := s.svc.Requests
	if _, err := req.CollectSample(ctx, requestID, orderID, tech); err != nil {
		return fmt.Errorf("collect %s/%s: %w", requestID, orderID, err)
	}
	if _, err := req.StartProcessing(ctx, requestID, orderID); err != nil {
		return fmt.Errorf("process %s/%s: %w", requestID, orderID, err)
	}
	if _, err := req.AddTestResults(ctx, requestID, orderID, results); err != nil {
		return fmt.Errorf("report %s/%s: %w", requestID, orderID, err)
	}
	return nil
}

// seedSynthetic creates one generated request and walks each of its orders
// a random number of steps through the lifecycle.
func (s *Seeder) seedSynthetic(ctx context.Context, testIDs, walkinIDs []string) error {
	g := s.gen
	in := g.RequestInput(testIDs, walkinIDs, s.config.Branches)
	r, err := s.svc.Requests.CreateRequest(ctx, in)
	if err != nil {
		return err
	}

	if g.chance(0.1) {
		_, err := s.svc.Requests.CancelRequest(ctx, r.ID)
		return err
	}

	tech := g.pick(demoTechs)
	for _, o := range r.Tests {
		steps := g.rng.Intn(4)
		if steps >= 1 {
			if _, err := s.svc.Requests.CollectSample(ctx, r.ID, o.ID, tech); err != nil {
				return err
			}
		}
		if steps >= 2 {
			if _, err := s.svc.Requests.StartProcessing(ctx, r.ID, o.ID); err != nil {
				return err
			}
		}
		if steps >= 3 {
			if _, err := s.svc.Requests.AddTestResults(ctx, r.ID, o.ID, g.Results(o.TestName)); err != nil {
				return err
			}
		}
	}

	if g.chance(0.5) {
		status := labrequest.PaymentComplete
		if g.chance(0.3) {
			status = labrequest.PaymentPartial
		}
		if _, err := s.svc.Requests.UpdateRequest(ctx, r.ID, labrequest.RequestUpdate{PaymentStatus: &status}); err != nil {
			return err
		}
	}
	return nil
}

// -- DataGenerator --

// DataGenerator produces reproducible synthetic request inputs.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) chance(p float64) bool {
	return g.rng.Float64() < p
}

var (
	priorities     = []labrequest.Priority{labrequest.PriorityNormal, labrequest.PriorityNormal, labrequest.PriorityUrgent, labrequest.PriorityStat}
	paymentMethods = []labrequest.PaymentMethod{labrequest.PaymentCash, labrequest.PaymentMpesa, labrequest.PaymentCard, labrequest.PaymentInsurance}
	insurers       = []string{"SHA", "AAR", "Jubilee", "Britam"}
)

// RequestInput builds a request for a random demo patient with one to three
// distinct tests.
func (g *DataGenerator) RequestInput(testIDs, walkinIDs, branches []string) labrequest.CreateRequestInput {
	var in labrequest.CreateRequestInput
	if len(walkinIDs) > 0 && g.chance(0.4) {
		in.PatientID = g.pick(walkinIDs)
		in.PatientType = labrequest.PatientExternal
	} else {
		ids := make([]string, 0, len(demoPatients))
		for id := range demoPatients {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		in.PatientID = g.pick(ids)
		in.PatientName = demoPatients[in.PatientID]
		in.PatientType = labrequest.PatientInternal
		doc := demoDoctors[g.rng.Intn(len(demoDoctors))]
		in.DoctorID, in.DoctorName = doc.ID, doc.Name
	}

	n := 1 + g.rng.Intn(3)
	if n > len(testIDs) {
		n = len(testIDs)
	}
	for _, i := range g.rng.Perm(len(testIDs))[:n] {
		in.TestIDs = append(in.TestIDs, testIDs[i])
	}

	in.Branch = g.pick(branches)
	in.Priority = priorities[g.rng.Intn(len(priorities))]
	in.PaymentMethod = paymentMethods[g.rng.Intn(len(paymentMethods))]
	if in.PaymentMethod == labrequest.PaymentInsurance {
		in.InsuranceProvider = g.pick(insurers)
		in.InsurancePolicyNumber = fmt.Sprintf("%s%08d", in.InsuranceProvider, g.rng.Intn(100000000))
	}
	return in
}

// Results returns a single-parameter result set with a random flag skewed
// towards normal.
func (g *DataGenerator) Results(testName string) []labrequest.TestResult {
	flag := labrequest.FlagNormal
	switch r := g.rng.Float64(); {
	case r > 0.95:
		flag = labrequest.FlagCritical
	case r > 0.85:
		flag = labrequest.FlagHigh
	case r > 0.75:
		flag = labrequest.FlagLow
	}
	return []labrequest.TestResult{{
		Parameter: testName,
		Value:     fmt.Sprintf("%.1f", 1+g.rng.Float64()*99),
		Flag:      flag,
	}}
}
