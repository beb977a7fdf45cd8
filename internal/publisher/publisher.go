package publisher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/internal/services"
	"github.com/larkvale/pulsenote/pkg/logger"
)

// Publisher turns domain events into durable notification records and
// best-effort push frames. The record store is authoritative; hub delivery
// failures never fail the store operation, clients converge via resync.
type Publisher struct {
	store *services.NotificationService
	hub   *realtime.Hub
	log   *zap.Logger
}

// New constructs a Publisher. The hub is optional: without one, events are
// persisted and picked up by polling clients only.
func New(store *services.NotificationService, hub *realtime.Hub) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("publisher: notification store is required")
	}
	return &Publisher{
		store: store,
		hub:   hub,
		log:   logger.WithModule("publisher"),
	}, nil
}

// Publish persists a notification record and fans it out to the recipient's
// live sessions, attaching the fresh unread count when it can be read. If the
// count read fails the frame ships without one and clients mark their cached
// count stale.
func (p *Publisher) Publish(ctx context.Context, input services.CreateNotificationInput) (*services.NotificationDTO, error) {
	dto, err := p.store.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if p.hub != nil {
		var count *int64
		if unread, countErr := p.store.UnreadCount(ctx, dto.RecipientID); countErr == nil {
			count = &unread
		} else {
			p.log.Warn("unread count unavailable at publish time",
				zap.String("recipient_id", dto.RecipientID),
				zap.Error(countErr),
			)
		}
		p.hub.Deliver(dto.RecipientID, realtime.NewNotificationFrame(dto, count))
	}

	return dto, nil
}

// NotifyReadStateChanged tells the recipient's other sessions that read state
// or list membership changed (mark-read, mark-all-read, delete), followed by
// a fresh count so badges converge without a refetch.
func (p *Publisher) NotifyReadStateChanged(ctx context.Context, recipientID string) {
	if p.hub == nil {
		return
	}

	p.hub.Deliver(recipientID, realtime.NotificationReadFrame())

	if unread, err := p.store.UnreadCount(ctx, recipientID); err == nil {
		p.hub.BroadcastCountUpdate(recipientID, unread)
	} else {
		p.log.Warn("unread count unavailable after mutation",
			zap.String("recipient_id", recipientID),
			zap.Error(err),
		)
	}
}
