package labrequest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/labtracker/pkg/apperror"
)

// AllBranches and AllPatientTypes are the pass-through filter values.
const (
	AllBranches     = "all"
	AllPatientTypes = "all"
)

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func passThrough(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "all")
}

func filter(reqs []*LabRequest, keep func(*LabRequest) bool) []*LabRequest {
	out := make([]*LabRequest, 0, len(reqs))
	for _, r := range reqs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByBranch keeps requests whose branch equals branch ignoring case.
// "all" or an empty branch returns reqs unchanged.
func FilterByBranch(reqs []*LabRequest, branch string) []*LabRequest {
	if passThrough(branch) {
		return reqs
	}
	return filter(reqs, func(r *LabRequest) bool { return equalFold(r.Branch, branch) })
}

// FilterBySearch keeps requests whose patient name, id, patient id or
// doctor name contains q ignoring case.
func FilterBySearch(reqs []*LabRequest, q string) []*LabRequest {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return reqs
	}
	return filter(reqs, func(r *LabRequest) bool {
		for _, field := range []string{r.PatientName, r.ID, r.PatientID, r.DoctorName} {
			if field != "" && strings.Contains(strings.ToLower(field), q) {
				return true
			}
		}
		return false
	})
}

func FilterByPatientType(reqs []*LabRequest, t string) []*LabRequest {
	if passThrough(t) {
		return reqs
	}
	return filter(reqs, func(r *LabRequest) bool { return string(r.PatientType) == t })
}

// FilterByStatus keeps requests with at least one order in status s.
func FilterByStatus(reqs []*LabRequest, s OrderStatus) []*LabRequest {
	if s == "" {
		return reqs
	}
	return filter(reqs, func(r *LabRequest) bool { return r.HasStatus(s) })
}

func FilterByTimeWindow(reqs []*LabRequest, w TimeWindow, now time.Time) []*LabRequest {
	if w.Kind == "" || w.Kind == WindowAll {
		return reqs
	}
	return filter(reqs, func(r *LabRequest) bool { return w.Contains(r.CreatedAt, now) })
}

// -- Time windows --

type WindowKind string

const (
	WindowAll       WindowKind = "all"
	WindowToday     WindowKind = "today"
	WindowYesterday WindowKind = "yesterday"
	WindowWeek      WindowKind = "week"
	WindowMonth     WindowKind = "month"
	WindowLastDays  WindowKind = "last_n_days"
	WindowCustom    WindowKind = "custom"
)

// TimeWindow classifies creation times relative to "now". Calendar windows
// are evaluated in Location (now's location when nil). Custom windows cover
// Start's whole day through End's whole day.
type TimeWindow struct {
	Kind     WindowKind
	Days     int
	Start    time.Time
	End      time.Time
	Location *time.Location
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Bounds returns the half-open interval [from, to) of the window. A zero
// bound is unbounded.
func (w TimeWindow) Bounds(now time.Time) (from, to time.Time) {
	loc := w.Location
	if loc == nil {
		loc = now.Location()
	}
	today := startOfDay(now.In(loc))

	switch w.Kind {
	case WindowToday:
		return today, today.AddDate(0, 0, 1)
	case WindowYesterday:
		return today.AddDate(0, 0, -1), today
	case WindowWeek:
		sunday := today.AddDate(0, 0, -int(today.Weekday()))
		return sunday, sunday.AddDate(0, 0, 7)
	case WindowMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0)
	case WindowLastDays:
		return now.AddDate(0, 0, -w.Days), time.Time{}
	case WindowCustom:
		if !w.Start.IsZero() {
			from = startOfDay(w.Start.In(loc))
		}
		if !w.End.IsZero() {
			to = startOfDay(w.End.In(loc)).AddDate(0, 0, 1)
		}
		return from, to
	}
	return time.Time{}, time.Time{}
}

// Contains reports whether t falls inside the window evaluated at now.
func (w TimeWindow) Contains(t, now time.Time) bool {
	from, to := w.Bounds(now)
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

const dateLayout = "2006-01-02"

// ParseTimeWindow builds a window from query values. Window names may use
// hyphens or underscores. from/to dates (YYYY-MM-DD) without a window name
// imply a custom window.
func ParseTimeWindow(window, days, from, to string, loc *time.Location) (TimeWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	w := TimeWindow{Location: loc}
	window = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(window)), "-", "_")
	if window == "" && (from != "" || to != "") {
		window = string(WindowCustom)
	}

	switch window {
	case "", "all":
		w.Kind = WindowAll
	case "today", "yesterday", "week", "month":
		w.Kind = WindowKind(window)
	case "this_week":
		w.Kind = WindowWeek
	case "this_month":
		w.Kind = WindowMonth
	case "last7days", "last_7_days":
		w.Kind, w.Days = WindowLastDays, 7
	case "last30days", "last_30_days":
		w.Kind, w.Days = WindowLastDays, 30
	case "last_n_days":
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return w, apperror.Validation("days must be a positive integer, got %q", days)
		}
		w.Kind, w.Days = WindowLastDays, n
	case "custom":
		w.Kind = WindowCustom
		var err error
		if from != "" {
			if w.Start, err = time.ParseInLocation(dateLayout, from, loc); err != nil {
				return w, apperror.Validation("invalid from date %q", from)
			}
		}
		if to != "" {
			if w.End, err = time.ParseInLocation(dateLayout, to, loc); err != nil {
				return w, apperror.Validation("invalid to date %q", to)
			}
		}
		if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
			return w, apperror.Validation("to date %s is before from date %s", to, from)
		}
	default:
		return w, apperror.Validation("unknown time window %q", window)
	}
	return w, nil
}

// -- Derived views --

// CompletionPercentage is the rounded share of non-cancelled orders that
// are completed; 0 when there are none.
func CompletionPercentage(r *LabRequest) int {
	var total, completed int
	for _, t := range r.Tests {
		if t.Status == StatusCancelled {
			continue
		}
		total++
		if t.Status == StatusCompleted {
			completed++
		}
	}
	if total == 0 || completed == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

type ProgressBadge string

const (
	ProgressPending    ProgressBadge = "pending"
	ProgressInProgress ProgressBadge = "in_progress"
	ProgressCompleted  ProgressBadge = "completed"
	ProgressCancelled  ProgressBadge = "cancelled"
)

// Progress summarises the request for list badges: completed when every
// live order is done, in progress once any work started, cancelled when
// nothing is left alive.
func Progress(r *LabRequest) ProgressBadge {
	var live, done, started int
	for _, t := range r.Tests {
		switch t.Status {
		case StatusCancelled:
			continue
		case StatusCompleted:
			done++
			started++
		case StatusSampleCollected, StatusProcessing:
			started++
		}
		live++
	}
	switch {
	case live == 0 && len(r.Tests) > 0:
		return ProgressCancelled
	case live > 0 && done == live:
		return ProgressCompleted
	case started > 0:
		return ProgressInProgress
	}
	return ProgressPending
}

// PaymentBadge maps a payment status to its display label.
func PaymentBadge(s PaymentStatus) string {
	switch s {
	case PaymentComplete:
		return "Paid"
	case PaymentPartial:
		return "Partial"
	}
	return "Pending"
}

type Revenue struct {
	Collected   float64 `json:"collected"`
	Outstanding float64 `json:"outstanding"`
	Total       float64 `json:"total"`
}

// ComputeRevenue sums request totals, split by whether payment is complete.
func ComputeRevenue(reqs []*LabRequest) Revenue {
	var rev Revenue
	for _, r := range reqs {
		if r.PaymentStatus == PaymentComplete {
			rev.Collected += r.TotalAmount
		} else {
			rev.Outstanding += r.TotalAmount
		}
	}
	rev.Total = rev.Collected + rev.Outstanding
	return rev
}

// View is a request together with its derived, never stored, fields.
type View struct {
	*LabRequest
	CompletionPercentage int           `json:"completion_percentage"`
	Progress             ProgressBadge `json:"progress"`
	PaymentBadge         string        `json:"payment_badge"`
}

func NewView(r *LabRequest) View {
	return View{
		LabRequest:           r,
		CompletionPercentage: CompletionPercentage(r),
		Progress:             Progress(r),
		PaymentBadge:         PaymentBadge(r.PaymentStatus),
	}
}

func NewViews(reqs []*LabRequest) []View {
	views := make([]View, len(reqs))
	for i, r := range reqs {
		views[i] = NewView(r)
	}
	return views
}

// -- Composite filter --

// Filter combines every request filter; zero fields match everything.
type Filter struct {
	PatientID   string
	Status      OrderStatus
	Branch      string
	PatientType string
	Query       string
	Window      TimeWindow
}

// Criteria returns the part of f a repository can evaluate.
func (f Filter) Criteria(now time.Time) Criteria {
	c := Criteria{PatientID: f.PatientID, Status: f.Status}
	if !passThrough(f.Branch) {
		c.Branch = f.Branch
	}
	if !passThrough(f.PatientType) {
		c.PatientType = PatientType(f.PatientType)
	}
	if f.Window.Kind != "" && f.Window.Kind != WindowAll {
		from, to := f.Window.Bounds(now)
		if !from.IsZero() {
			c.CreatedFrom = &from
		}
		if !to.IsZero() {
			c.CreatedTo = &to
		}
	}
	return c
}

// Apply runs every filter of f over reqs.
func (f Filter) Apply(reqs []*LabRequest, now time.Time) []*LabRequest {
	if f.PatientID != "" {
		reqs = filter(reqs, func(r *LabRequest) bool { return r.PatientID == f.PatientID })
	}
	reqs = FilterByStatus(reqs, f.Status)
	reqs = FilterByBranch(reqs, f.Branch)
	reqs = FilterByPatientType(reqs, f.PatientType)
	reqs = FilterByTimeWindow(reqs, f.Window, now)
	return FilterBySearch(reqs, f.Query)
}

// Summary aggregates a filtered request set for dashboards.
type Summary struct {
	Requests          int                 `json:"requests"`
	Tests             int                 `json:"tests"`
	CompletedRequests int                 `json:"completed_requests"`
	ByStatus          map[OrderStatus]int `json:"by_status"`
	Revenue           Revenue             `json:"revenue"`
}

func Summarize(reqs []*LabRequest) Summary {
	s := Summary{
		Requests: len(reqs),
		ByStatus: make(map[OrderStatus]int),
		Revenue:  ComputeRevenue(reqs),
	}
	for _, r := range reqs {
		s.Tests += len(r.Tests)
		for _, t := range r.Tests {
			s.ByStatus[t.Status]++
		}
		if Progress(r) == ProgressCompleted {
			s.CompletedRequests++
		}
	}
	return s
}
