package providers

import (
	"context"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to queue events.
// Publish is fire-and-forget: an event is delivered at most once, with no
// ordering guarantee and no acknowledgment. Callers never retry.
type EventBus interface {
	// Publish publishes an event to all current subscribers of channel
	Publish(ctx context.Context, channel string, event *entities.QueueEvent) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.QueueEvent, error)

	// Unsubscribe drops every subscriber of a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelQueue receives every queue event
	EventChannelQueue = "queue:events"

	// EventChannelClinicPrefix is the prefix for clinic display channels
	EventChannelClinicPrefix = "clinic:"

	// EventChannelPatientPrefix is the prefix for patient channels
	EventChannelPatientPrefix = "patient:"
)

// GetClinicChannel returns the channel name for a specific clinic
func GetClinicChannel(clinicID string) string {
	return EventChannelClinicPrefix + clinicID
}

// GetPatientChannel returns the channel name for a specific patient
func GetPatientChannel(patientID string) string {
	return EventChannelPatientPrefix + patientID
}

// ChannelsFor returns every channel an event is fanned out to
func ChannelsFor(event *entities.QueueEvent) []string {
	channels := []string{EventChannelQueue}
	if event.ClinicID != "" {
		channels = append(channels, GetClinicChannel(event.ClinicID))
	}
	if event.Recipient != "" {
		channels = append(channels, GetPatientChannel(event.Recipient))
	}
	return channels
}
