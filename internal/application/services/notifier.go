package services

import (
	"context"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// outbox collects the events raised inside one transaction
type outbox struct {
	events []*entities.QueueEvent
}

func (o *outbox) add(event *entities.QueueEvent) {
	o.events = append(o.events, event)
}

// Notifier publishes queue events after their transaction committed.
// Delivery is at-most-once: failures are logged and the event is dropped.
type Notifier struct {
	bus    providers.EventBus
	config ConfigProvider
}

// NewNotifier creates a notifier. A nil bus disables publishing.
func NewNotifier(bus providers.EventBus, config ConfigProvider) *Notifier {
	return &Notifier{bus: bus, config: config}
}

// Publish fans every event out to its channels
func (n *Notifier) Publish(ctx context.Context, events ...*entities.QueueEvent) {
	if n == nil || n.bus == nil || len(events) == 0 {
		return
	}
	if n.config != nil && !n.config.Current().Notifications {
		return
	}

	logger := observability.LoggerFromContext(ctx)
	for _, event := range events {
		for _, channel := range providers.ChannelsFor(event) {
			if err := n.bus.Publish(ctx, channel, event); err != nil {
				logger.Warn().Err(err).
					Str("channel", channel).
					Str("event_type", string(event.Type)).
					Str("patient_id", event.Recipient).
					Msg("dropping queue event")
			}
		}
	}
}

type txFunc func(ctx context.Context, repos repositories.Repositories, ob *outbox) error

// runTx runs fn in one store transaction and publishes the events it raised
// once the transaction committed
func runTx(ctx context.Context, store repositories.Store, notifier *Notifier, fn txFunc) error {
	ob := &outbox{}
	err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		return fn(ctx, repos, ob)
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeInternal) {
			observability.LoggerFromContext(ctx).Error().Err(err).Msg("store transaction failed")
		}
		return err
	}
	notifier.Publish(ctx, ob.events...)
	return nil
}
