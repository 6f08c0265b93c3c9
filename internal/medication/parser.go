package medication

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Parsed is the decomposition of a free-text medication string. Dosage,
// Unit and Quantity are zero when the text carried no recognizable dosage.
type Parsed struct {
	Name     string  `json:"name"`
	Dosage   string  `json:"dosage,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

// HasDosage reports whether a dosage span was recognized in the input.
func (p Parsed) HasDosage() bool { return p.Dosage != "" }

// dosageSpanRE matches a trailing "<number>[-<number>]<unit>" span. The unit
// set is recognized-but-not-exclusive: compound units like mg/ml pass too.
// Case of the matched unit is preserved (IU stays IU).
var dosageSpanRE = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)(?:\s*-\s*(\d+(?:\.\d+)?))?\s*((?:mg|mcg|g|ml|iu|units?|%)(?:/(?:mg|mcg|g|ml|iu|units?|%|dose))?)\s*$`)

// Parse splits a free-text string such as "Lisinopril 10mg" into its name
// and dosage parts. A missing dosage is not an error: the whole text becomes
// the normalized name. Only empty input fails.
func Parse(text string) (Parsed, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Parsed{}, fmt.Errorf("%w: empty medication text", ErrInvalidInput)
	}

	loc := dosageSpanRE.FindStringSubmatchIndex(trimmed)
	if loc == nil || strings.TrimSpace(trimmed[:loc[0]]) == "" {
		return Parsed{Name: NormalizeName(trimmed)}, nil
	}

	lower := trimmed[loc[2]:loc[3]]
	quantity, err := strconv.ParseFloat(lower, 64)
	if err != nil {
		return Parsed{Name: NormalizeName(trimmed)}, nil
	}

	return Parsed{
		Name:     NormalizeName(trimmed[:loc[0]]),
		Dosage:   strings.TrimSpace(trimmed[loc[0]:]),
		Unit:     trimmed[loc[6]:loc[7]],
		Quantity: quantity,
	}, nil
}

// ParseDosage decomposes a bare dosage string ("200-400mg") into its full
// form, unit and quantity. For ranges the quantity is the lower bound.
func ParseDosage(dosage string) (unit string, quantity float64, ok bool) {
	trimmed := strings.TrimSpace(dosage)
	m := dosageSpanRE.FindStringSubmatch(trimmed)
	if m == nil {
		return "", 0, false
	}
	quantity, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", 0, false
	}
	return m[3], quantity, true
}

// NormalizeName title-cases every word of a medication name, so multi-word
// names keep per-word capitalization ("extended release metoprolol" becomes
// "Extended Release Metoprolol").
func NormalizeName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
