// Package fda defines the external medication-verification collaborator.
// The engine only depends on the Validator interface; the default Stub does
// no real compliance work and any implementer can be swapped in.
package fda

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrValidationFailed indicates the collaborator rejected the medication.
var ErrValidationFailed = errors.New("fda validation failed")

// Result is the outcome of a verification lookup. Warnings and
// PregnancyCategory are optional and may be absent.
type Result struct {
	Valid             bool     `json:"valid"`
	Warnings          []string `json:"warnings,omitempty"`
	PregnancyCategory string   `json:"pregnancy_category,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

// Interaction describes a known interaction between two medications.
type Interaction struct {
	Medication  string `json:"medication"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Validator is the collaborator contract. Implementations may reject; the
// caller propagates that as a domain error and never mutates first.
type Validator interface {
	ValidateMedication(ctx context.Context, name string) (*Result, error)
	CheckDrugInteractions(ctx context.Context, name string, others []string) ([]Interaction, error)
	NDCCode(ctx context.Context, name, dosage string) (string, error)
}

// stubRecord is one row of the stub's canned reference table.
type stubRecord struct {
	warnings          []string
	pregnancyCategory string
	ndc               string
	interactsWith     map[string]Interaction
}

// Stub is the default, offline Validator. It accepts every non-empty name
// and serves canned data for a handful of common medications.
type Stub struct {
	known map[string]stubRecord
}

// NewStub creates the canned-table validator.
func NewStub() *Stub {
	return &Stub{known: map[string]stubRecord{
		"lisinopril": {
			warnings:          []string{"May cause dizziness", "Avoid potassium supplements"},
			pregnancyCategory: "D",
			ndc:               "68180-0513",
		},
		"warfarin": {
			warnings:          []string{"Requires regular INR monitoring"},
			pregnancyCategory: "X",
			ndc:               "00056-0170",
			interactsWith: map[string]Interaction{
				"ibuprofen": {Medication: "Ibuprofen", Severity: "major", Description: "Increased bleeding risk"},
				"aspirin":   {Medication: "Aspirin", Severity: "major", Description: "Increased bleeding risk"},
			},
		},
		"metoprolol": {
			warnings:          []string{"Do not stop abruptly"},
			pregnancyCategory: "C",
			ndc:               "00378-0032",
		},
		"ibuprofen": {
			warnings:          []string{"Take with food"},
			pregnancyCategory: "C",
			ndc:               "00904-7912",
		},
		"atorvastatin": {
			pregnancyCategory: "X",
			ndc:               "00071-0155",
		},
	}}
}

// ValidateMedication accepts any non-empty name, attaching canned warnings
// for known medications.
func (s *Stub) ValidateMedication(ctx context.Context, name string) (*Result, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &Result{Valid: false, Reason: "medication name is empty"}, nil
	}
	rec, ok := s.known[strings.ToLower(trimmed)]
	if !ok {
		return &Result{Valid: true}, nil
	}
	return &Result{
		Valid:             true,
		Warnings:          append([]string(nil), rec.warnings...),
		PregnancyCategory: rec.pregnancyCategory,
	}, nil
}

// CheckDrugInteractions reports canned pairwise interactions.
func (s *Stub) CheckDrugInteractions(ctx context.Context, name string, others []string) ([]Interaction, error) {
	rec, ok := s.known[strings.ToLower(strings.TrimSpace(name))]
	if !ok || rec.interactsWith == nil {
		return nil, nil
	}
	var out []Interaction
	for _, other := range others {
		if ix, hit := rec.interactsWith[strings.ToLower(strings.TrimSpace(other))]; hit {
			out = append(out, ix)
		}
	}
	return out, nil
}

// NDCCode returns the canned NDC code, or an error when unknown.
func (s *Stub) NDCCode(ctx context.Context, name, dosage string) (string, error) {
	rec, ok := s.known[strings.ToLower(strings.TrimSpace(name))]
	if !ok || rec.ndc == "" {
		return "", fmt.Errorf("no NDC code on record for %q", name)
	}
	return rec.ndc, nil
}
