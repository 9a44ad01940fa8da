package walkin

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

// ExternalPatient maps to the external_patient table: a walk-in registered
// at the lab desk, outside the clinical patient records.
type ExternalPatient struct {
	ID         string    `db:"id" json:"id"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	Gender     Gender    `db:"gender" json:"gender"`
	Age        int       `db:"age" json:"age"`
	Phone      string    `db:"phone" json:"phone"`
	Email      string    `db:"email" json:"email,omitempty"`
	IDNumber   string    `db:"id_number" json:"id_number,omitempty"`
	ReferredBy string    `db:"referred_by" json:"referred_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (p *ExternalPatient) FullName() string {
	return p.FirstName + " " + p.LastName
}
