// Package triage maps free-text visit reasons to likely medical
// specializations so booking requests can be routed to the right doctors.
package triage

import (
	"sort"
	"strings"
)

// GeneralMedicine is the fallback when no keyword matches.
const GeneralMedicine = "General Medicine"

// keywordSpecialties maps symptom keywords (lowercase) to a specialization.
// Matching is substring-based; longer keywords carry more weight so a
// specific complaint outranks an incidental word.
var keywordSpecialties = map[string]string{
	"chest pain":          "Cardiology",
	"heart":               "Cardiology",
	"palpitations":        "Cardiology",
	"blood pressure":      "Cardiology",
	"shortness of breath": "Cardiology",

	"skin":    "Dermatology",
	"rash":    "Dermatology",
	"acne":    "Dermatology",
	"eczema":  "Dermatology",
	"itching": "Dermatology",
	"mole":    "Dermatology",

	"child":       "Pediatrics",
	"baby":        "Pediatrics",
	"infant":      "Pediatrics",
	"toddler":     "Pediatrics",
	"vaccination": "Pediatrics",

	"bone":      "Orthopedics",
	"joint":     "Orthopedics",
	"fracture":  "Orthopedics",
	"back pain": "Orthopedics",
	"knee":      "Orthopedics",
	"shoulder":  "Orthopedics",
	"sprain":    "Orthopedics",

	"headache":  "Neurology",
	"migraine":  "Neurology",
	"seizure":   "Neurology",
	"dizziness": "Neurology",
	"numbness":  "Neurology",
	"memory":    "Neurology",

	"fever":   GeneralMedicine,
	"cough":   GeneralMedicine,
	"cold":    GeneralMedicine,
	"flu":     GeneralMedicine,
	"checkup": GeneralMedicine,
	"fatigue": GeneralMedicine,
}

// SuggestSpecializations returns specializations matching the reason text,
// most relevant first. Weight is the total length of matched keywords, so
// "chest pain" beats a lone "skin". Ties break alphabetically to keep the
// order stable. An unmatched reason falls back to general medicine.
func SuggestSpecializations(reason string) []string {
	lower := strings.ToLower(reason)

	weights := make(map[string]int)
	for keyword, spec := range keywordSpecialties {
		if strings.Contains(lower, keyword) {
			weights[spec] += len(keyword)
		}
	}

	if len(weights) == 0 {
		return []string{GeneralMedicine}
	}

	specs := make([]string, 0, len(weights))
	for spec := range weights {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		if weights[specs[i]] != weights[specs[j]] {
			return weights[specs[i]] > weights[specs[j]]
		}
		return specs[i] < specs[j]
	})

	return specs
}

// Summary produces a short human-readable routing hint for a reason text.
func Summary(reason string) string {
	specs := SuggestSpecializations(reason)
	if len(specs) == 1 && specs[0] == GeneralMedicine {
		return "General consultation recommended"
	}
	if len(specs) == 1 {
		return "Suggested specialty: " + specs[0]
	}
	if len(specs) > 3 {
		specs = specs[:3]
	}
	return "Suggested specialties: " + strings.Join(specs, ", ")
}
