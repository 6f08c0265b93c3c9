package medication

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType tags a domain event emitted by a mutating tracker operation.
type EventType string

const (
	EventMedicationAdded   EventType = "MedicationAdded"
	EventMedicationUpdated EventType = "MedicationUpdated"
	EventMedicationRemoved EventType = "MedicationRemoved"
	EventDoseTaken         EventType = "DoseTaken"
	EventRefillSet         EventType = "RefillSet"
	EventPillCountAdjusted EventType = "PillCountAdjusted"
	EventRefillAlertRaised EventType = "RefillAlertRaised"
)

// Event is a typed domain event. Mutating operations hand these to a
// caller-supplied observer instead of an ambient event bus.
type Event struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	MedicationID string          `json:"medication_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewEvent builds an event with a fresh identifier and a marshaled payload.
func NewEvent(typ EventType, medicationID string, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Event{
		ID:           uuid.New().String(),
		Type:         typ,
		MedicationID: medicationID,
		Payload:      raw,
		OccurredAt:   time.Now().UTC(),
	}, nil
}

// WithUser attaches the acting user to the event.
func (e *Event) WithUser(userID string) *Event {
	e.UserID = userID
	return e
}
