package medication

import "errors"

// Validation and lookup failures surfaced by the store, the validator and
// the parser. Callers discriminate with errors.Is.
var (
	// ErrInvalidInput indicates empty or unusable free-text input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingField indicates a required field was absent.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidName indicates the name contains blocked characters.
	ErrInvalidName = errors.New("invalid medication name")

	// ErrInvalidDosageFormat indicates the dosage string does not match the
	// accepted <number>[-<number>]<unit> form.
	ErrInvalidDosageFormat = errors.New("invalid dosage format")

	// ErrNonPositiveDosage indicates a zero or negative dosage quantity.
	ErrNonPositiveDosage = errors.New("dosage quantity must be positive")

	// ErrDosageTooHigh indicates the dosage quantity exceeds the safety ceiling.
	ErrDosageTooHigh = errors.New("dosage quantity exceeds safety ceiling")

	// ErrInvalidFrequency indicates an unrecognized schedule descriptor.
	ErrInvalidFrequency = errors.New("invalid frequency")

	// ErrDuplicateEntry indicates an identical (name, dosage, frequency)
	// record already exists, active or not.
	ErrDuplicateEntry = errors.New("duplicate medication entry")

	// ErrNotFound indicates the referenced medication does not exist.
	ErrNotFound = errors.New("medication not found")

	// ErrInsufficientPermissions indicates a mutating call under a
	// read-only role.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)
