package labcatalog

import "time"

// Category groups catalog tests on the catalog page.
type Category string

const (
	CategoryHematology   Category = "hematology"
	CategoryBiochemistry Category = "biochemistry"
	CategoryMicrobiology Category = "microbiology"
	CategoryImmunology   Category = "immunology"
	CategoryUrinalysis   Category = "urinalysis"
	CategoryImaging      Category = "imaging"
	CategoryPathology    Category = "pathology"
	CategoryOther        Category = "other"
)

var validCategories = map[Category]bool{
	CategoryHematology: true, CategoryBiochemistry: true, CategoryMicrobiology: true,
	CategoryImmunology: true, CategoryUrinalysis: true, CategoryImaging: true,
	CategoryPathology: true, CategoryOther: true,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return validCategories[c]
}

// LabTest maps to the lab_test table: one orderable test definition.
type LabTest struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Category        Category  `db:"category" json:"category"`
	Price           float64   `db:"price" json:"price"`
	TurnaroundHours int       `db:"turnaround_hours" json:"turnaround_hours"`
	RequiresFasting bool      `db:"requires_fasting" json:"requires_fasting"`
	SampleType      string    `db:"sample_type" json:"sample_type"`
	Description     string    `db:"description" json:"description,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// LabTestUpdate carries the fields of a partial catalog edit. Nil fields are
// left unchanged.
type LabTestUpdate struct {
	Name            *string   `json:"name,omitempty"`
	Category        *Category `json:"category,omitempty"`
	Price           *float64  `json:"price,omitempty"`
	TurnaroundHours *int      `json:"turnaround_hours,omitempty"`
	RequiresFasting *bool     `json:"requires_fasting,omitempty"`
	SampleType      *string   `json:"sample_type,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Active          *bool     `json:"active,omitempty"`
}

// Apply merges the non-nil fields of u into t.
func (u LabTestUpdate) Apply(t *LabTest) {
	if u.Name != nil {
		t.Name = *u.Name
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.Price != nil {
		t.Price = *u.Price
	}
	if u.TurnaroundHours != nil {
		t.TurnaroundHours = *u.TurnaroundHours
	}
	if u.RequiresFasting != nil {
		t.RequiresFasting = *u.RequiresFasting
	}
	if u.SampleType != nil {
		t.SampleType = *u.SampleType
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Active != nil {
		t.Active = *u.Active
	}
}
