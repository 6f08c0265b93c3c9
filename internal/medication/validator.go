package medication

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rules holds the validation rule tables. They are injected into the
// Validator at construction so tests can swap rule sets without touching
// package-level state.
type Rules struct {
	// NameBlocklist are characters rejected outright before sanitization.
	NameBlocklist string
	// DosageRE is the accepted dosage format. A leading minus sign is
	// permitted here so the quantity check can reject it on its own path.
	DosageRE *regexp.Regexp
	// MaxQuantity is the safety ceiling for a parsed dosage quantity.
	MaxQuantity float64
}

// DefaultRules returns the rule tables used in production.
func DefaultRules() Rules {
	return Rules{
		NameBlocklist: "@{}<>",
		DosageRE:      regexp.MustCompile(`(?i)^-?\d+(?:\.\d+)?(?:\s*-\s*\d+(?:\.\d+)?)?\s*(?:mg|mcg|g|ml|iu|units?|%)(?:/(?:mg|mcg|g|ml|iu|units?|%|dose))?$`),
		MaxQuantity:   10000,
	}
}

// Input is the caller-supplied medication data under validation.
type Input struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Report is the non-throwing validation result.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []error  `json:"-"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator enforces name, dosage and frequency rules.
type Validator struct {
	rules Rules
}

// NewValidator creates a validator with the given rule tables.
func NewValidator(rules Rules) *Validator {
	if rules.DosageRE == nil {
		rules = DefaultRules()
	}
	return &Validator{rules: rules}
}

// Validate checks all rules and collects every violation.
func (v *Validator) Validate(in Input) Report {
	var rep Report

	if strings.TrimSpace(in.Name) == "" {
		rep.Errors = append(rep.Errors, fmt.Errorf("%w: Medication name is required", ErrMissingField))
	} else if strings.ContainsAny(in.Name, v.rules.NameBlocklist) {
		rep.Errors = append(rep.Errors, fmt.Errorf("%w: name contains blocked characters", ErrInvalidName))
	}

	if strings.TrimSpace(in.Dosage) == "" {
		rep.Errors = append(rep.Errors, fmt.Errorf("%w: Dosage is required", ErrMissingField))
	} else if err := v.checkDosage(in.Dosage); err != nil {
		rep.Errors = append(rep.Errors, err)
	}

	if in.Frequency != "" && !ValidFrequency(in.Frequency) {
		rep.Errors = append(rep.Errors, fmt.Errorf("%w: %q", ErrInvalidFrequency, in.Frequency))
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}

// Check is the throwing variant used on the add path: it returns the first
// violation and nil when the input is clean.
func (v *Validator) Check(in Input) error {
	rep := v.Validate(in)
	if rep.Valid {
		return nil
	}
	return rep.Errors[0]
}

// CheckDosage validates a dosage string on its own. The update path uses it
// to hold patched dosages to the same format and ceiling as new ones.
func (v *Validator) CheckDosage(dosage string) error {
	if strings.TrimSpace(dosage) == "" {
		return fmt.Errorf("%w: Dosage is required", ErrMissingField)
	}
	return v.checkDosage(dosage)
}

func (v *Validator) checkDosage(dosage string) error {
	trimmed := strings.TrimSpace(dosage)
	if !v.rules.DosageRE.MatchString(trimmed) {
		return fmt.Errorf("%w: %q", ErrInvalidDosageFormat, dosage)
	}
	qty := leadingQuantity(trimmed)
	if qty <= 0 {
		return fmt.Errorf("%w: %v", ErrNonPositiveDosage, qty)
	}
	if qty > v.rules.MaxQuantity {
		return fmt.Errorf("%w: %v > %v", ErrDosageTooHigh, qty, v.rules.MaxQuantity)
	}
	return nil
}

var leadingNumberRE = regexp.MustCompile(`^-?\d+(?:\.\d+)?`)

// leadingQuantity extracts the first numeric value of a dosage string. For
// ranges this is the lower bound.
func leadingQuantity(dosage string) float64 {
	m := leadingNumberRE.FindString(dosage)
	if m == "" {
		return 0
	}
	qty, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return qty
}

var (
	schemeRE    = regexp.MustCompile(`(?i)(?:javascript|data|vbscript):`)
	eventAttrRE = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	htmlTagRE   = regexp.MustCompile(`<[^<>]*>`)
	scriptRE    = regexp.MustCompile(`(?i)script`)
	dropTableRE = regexp.MustCompile(`(?i)drop\s+table`)
	allowedRE   = regexp.MustCompile(`[^A-Za-z0-9\s\-()]+`)
)

// Sanitize strips injection vectors from a medication name: URL schemes,
// inline event handlers, HTML tags (nested and malformed), script tokens and
// SQL fragments, then whitelist-filters to letters, digits, whitespace,
// hyphens and parentheses. The result is a fixed point: sanitizing twice
// changes nothing.
func Sanitize(name string) string {
	// Run the pipeline to a fixed point: a removal can reassemble a fragment
	// an earlier pass would have caught ("sscriptcript", "-@-").
	s := name
	for {
		next := sanitizeOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func sanitizeOnce(s string) string {
	s = schemeRE.ReplaceAllString(s, "")
	s = eventAttrRE.ReplaceAllString(s, "")
	s = htmlTagRE.ReplaceAllString(s, "")
	s = scriptRE.ReplaceAllString(s, "")
	s = dropTableRE.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ";", "")
	s = strings.ReplaceAll(s, "--", "")
	s = allowedRE.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
