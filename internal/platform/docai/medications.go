package docai

import (
	"regexp"
	"strings"
)

// Medication is one line item read off a prescription.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

const defaultFrequency = "as directed"

var (
	// name, milligram dosage, then the rest of the line as frequency.
	strictMedication = regexp.MustCompile(`([A-Za-z]+)[ \t]+(\d+[ \t]*mg)[ \t]+([a-zA-Z0-9 \t]+)`)
	// any capitalized word followed by a number.
	looseMedication = regexp.MustCompile(`([A-Z][a-z]+)[ \t]+(\d+[ \t]*[a-z]*)`)
)

// ExtractMedications pulls medication entries out of OCR text. Lines are
// matched independently. When nothing matches the strict pattern a looser
// one is tried and frequency defaults to "as directed". The result is never nil.
func ExtractMedications(text string) []Medication {
	meds := []Medication{}
	for _, m := range strictMedication.FindAllStringSubmatch(text, -1) {
		meds = append(meds, Medication{
			Name:      m[1],
			Dosage:    m[2],
			Frequency: strings.TrimSpace(m[3]),
		})
	}
	if len(meds) > 0 {
		return meds
	}
	for _, m := range looseMedication.FindAllStringSubmatch(text, -1) {
		meds = append(meds, Medication{
			Name:      m[1],
			Dosage:    strings.TrimSpace(m[2]),
			Frequency: defaultFrequency,
		})
	}
	return meds
}
