package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DateOfBirth    *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Age            *int       `db:"age" json:"age,omitempty"`
	MedicalHistory []string   `db:"medical_history" json:"medical_history"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// AgeAt returns the patient's age in whole years at now. The date of birth
// wins over the stored age column; nil means the age is unknown.
func (p *Patient) AgeAt(now time.Time) *int {
	if p.DateOfBirth != nil {
		dob := p.DateOfBirth.UTC()
		now = now.UTC()
		age := now.Year() - dob.Year()
		if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
			age--
		}
		if age < 0 {
			age = 0
		}
		return &age
	}
	if p.Age != nil {
		age := *p.Age
		return &age
	}
	return nil
}
