package queue

import "strings"

const SeniorAge = 60

const (
	ReasonSenior   = "Senior Citizen"
	ReasonPWD      = "PWD"
	ReasonPregnant = "Pregnant"
)

// Rules are the clinic toggles that gate each priority condition.
type Rules struct {
	PriorityForSeniors  bool `json:"priority_for_seniors"`
	PriorityForPWD      bool `json:"priority_for_pwd"`
	PriorityForPregnant bool `json:"priority_for_pregnant"`
}

type Eligibility struct {
	IsPriority bool     `json:"is_priority"`
	Reasons    []string `json:"reasons"`
}

func (e Eligibility) Priority() Priority {
	if e.IsPriority {
		return PriorityPriority
	}
	return PriorityNormal
}

// Resolve decides priority eligibility for a patient. Reasons are always
// reported in the order senior, PWD, pregnant. A missing age never qualifies.
func Resolve(p PatientSnapshot, r Rules) Eligibility {
	reasons := []string{}

	if r.PriorityForSeniors && p.Age != nil && *p.Age >= SeniorAge {
		reasons = append(reasons, ReasonSenior)
	}
	if r.PriorityForPWD && anyTagContains(p.MedicalHistory, "pwd", "disability") {
		reasons = append(reasons, ReasonPWD)
	}
	// Loose substring match; "pregnan" also hits "pregnancy" and "not pregnant".
	if r.PriorityForPregnant && anyTagContains(p.MedicalHistory, "pregnan") {
		reasons = append(reasons, ReasonPregnant)
	}

	return Eligibility{IsPriority: len(reasons) > 0, Reasons: reasons}
}

func anyTagContains(tags []string, needles ...string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
	}
	return false
}
