package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted after committed transitions. External task and
// notification systems subscribe to these through the webhook registry.
const (
	EventClaimSubmitted      = "claim.submitted"
	EventClaimAccepted       = "claim.accepted"
	EventClaimRejected       = "claim.rejected"
	EventClaimDenied         = "claim.denied"
	EventClaimAppealed       = "claim.appealed"
	EventClaimPaid           = "claim.paid"
	EventClaimPartiallyPaid  = "claim.partially_paid"
	EventClaimVoided         = "claim.voided"
	EventPaymentRecorded     = "payment.recorded"
	EventPaymentRefunded     = "payment.refunded"
	EventTransactionReversed = "transaction.reversed"
)

// Event carries a committed status change to subscribers.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	PatientID    string          `json:"patient_id"`
	PracticeID   string          `json:"practice_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEvent builds an Event with a fresh id and the current time.
func NewEvent(eventType, resourceType string, resourceID, patientID uuid.UUID, practiceID string, payload interface{}) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID.String(),
		PatientID:    patientID.String(),
		PracticeID:   practiceID,
		Timestamp:    time.Now().UTC(),
		Payload:      raw,
	}
}

// Emitter delivers events after the unit of work has committed. Delivery
// failures must not roll back the business write; implementations log and
// move on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NopEmitter discards events. Used in tests and when no webhook endpoints
// are configured.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}
