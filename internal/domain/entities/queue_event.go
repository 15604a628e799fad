package entities

import (
	"time"

	"github.com/google/uuid"
)

// QueueEventType represents the type of a patient flow event
type QueueEventType string

const (
	QueueEventApproachingTurn QueueEventType = "approaching_turn"
	QueueEventYourTurnNow     QueueEventType = "your_turn_now"
	QueueEventCompleteCheckup QueueEventType = "complete_checkup"
	QueueEventNoShowWarning   QueueEventType = "no_show_warning"
	QueueEventRouteComplete   QueueEventType = "route_complete"
	QueueEventEmergencyAlert  QueueEventType = "emergency_alert"
)

// QueueEvent is a notification raised by a queue or route transition.
// Delivery is at-most-once and unordered.
type QueueEvent struct {
	ID        string                 `json:"id"`
	Type      QueueEventType         `json:"type"`
	Recipient string                 `json:"recipient"`
	ClinicID  string                 `json:"clinic_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewQueueEvent creates a new event addressed to a patient
func NewQueueEvent(eventType QueueEventType, recipient, clinicID string, payload map[string]interface{}, at time.Time) *QueueEvent {
	return &QueueEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Recipient: recipient,
		ClinicID:  clinicID,
		Payload:   payload,
		Timestamp: at,
	}
}
