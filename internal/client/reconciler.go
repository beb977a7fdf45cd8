package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/internal/services"
	"github.com/larkvale/pulsenote/pkg/logger"
)

// DefaultResyncInterval is how often the reconciler pulls authoritative state
// from the store regardless of push traffic.
const DefaultResyncInterval = 30 * time.Second

// StoreClient is the reconciler's view of the durable store. APIClient
// implements it over the REST surface; tests substitute fakes.
type StoreClient interface {
	ListNotifications(ctx context.Context, input services.ListNotificationsInput) ([]services.NotificationDTO, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id string) (services.NotificationDTO, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
}

// Snapshot is the reconciler's current view. Stale flags mean the cached
// value may lag the store and a resync is pending.
type Snapshot struct {
	Notifications []services.NotificationDTO
	UnreadCount   int64
	CountStale    bool
	ListStale     bool
	LastSyncedAt  time.Time
}

// Reconciler keeps a local cache of a recipient's notifications converged
// with the store. Push frames nudge the cache; the periodic resync is the
// authority. Mutations write through the store and invalidate instead of
// patching the cache optimistically.
type Reconciler struct {
	store       StoreClient
	recipientID string
	interval    time.Duration
	log         *zap.Logger

	// OnChange, when set, fires after every cache update with the new snapshot.
	OnChange func(Snapshot)

	// resyncNow wakes Run ahead of the next tick when a frame leaves the
	// count unknown.
	resyncNow chan struct{}

	mu            sync.Mutex
	notifications []services.NotificationDTO
	unreadCount   int64
	countStale    bool
	listStale     bool
	lastSyncedAt  time.Time
}

// NewReconciler builds a reconciler for one recipient. interval <= 0 selects
// the 30s default.
func NewReconciler(store StoreClient, recipientID string, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	return &Reconciler{
		store:       store,
		recipientID: recipientID,
		interval:    interval,
		log:         logger.WithModule("reconciler"),
		resyncNow:   make(chan struct{}, 1),
		countStale:  true,
		listStale:   true,
	}
}

// Snapshot returns a copy of the current cache state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	notifications := make([]services.NotificationDTO, len(r.notifications))
	copy(notifications, r.notifications)
	return Snapshot{
		Notifications: notifications,
		UnreadCount:   r.unreadCount,
		CountStale:    r.countStale,
		ListStale:     r.listStale,
		LastSyncedAt:  r.lastSyncedAt,
	}
}

// ApplyFrame folds a push frame into the cache. A new_notification frame
// carrying a count adopts it directly; without one the count is marked stale
// and Run is woken for an out-of-band resync. The list is always marked
// stale since push payloads are not the authoritative record.
func (r *Reconciler) ApplyFrame(frame realtime.Frame) {
	switch frame.Type {
	case realtime.FrameNewNotification:
		r.mu.Lock()
		countless := frame.Count == nil
		if countless {
			r.countStale = true
		} else {
			r.unreadCount = *frame.Count
			r.countStale = false
		}
		if dto, ok := decodeNotificationPayload(frame.Notification); ok {
			r.notifications = append([]services.NotificationDTO{dto}, r.notifications...)
		}
		r.listStale = true
		r.notifyLocked()
		if countless {
			r.requestResync()
		}
	case realtime.FrameNotificationRead:
		// Read state changed on another session; exact values come from the
		// next resync.
		r.mu.Lock()
		countless := frame.Count == nil
		if countless {
			r.countStale = true
		} else {
			r.unreadCount = *frame.Count
			r.countStale = false
		}
		r.listStale = true
		r.notifyLocked()
		if countless {
			r.requestResync()
		}
	}
}

// requestResync wakes Run without blocking. A request made while one is
// already pending is coalesced.
func (r *Reconciler) requestResync() {
	select {
	case r.resyncNow <- struct{}{}:
	default:
	}
}

// Run drives periodic resync until the context is cancelled. It resyncs once
// immediately so a fresh reconciler converges without waiting a full tick.
func (r *Reconciler) Run(ctx context.Context) {
	if err := r.Resync(ctx); err != nil {
		r.log.Warn("initial resync failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Resync(ctx); err != nil {
				r.log.Warn("resync failed", zap.Error(err))
			}
		case <-r.resyncNow:
			if err := r.Resync(ctx); err != nil {
				r.log.Warn("resync failed", zap.Error(err))
			}
		}
	}
}

// Resync pulls the authoritative list and count from the store and replaces
// the cache. On failure the cache is left untouched and the error returned.
func (r *Reconciler) Resync(ctx context.Context) error {
	notifications, err := r.store.ListNotifications(ctx, services.ListNotificationsInput{
		RecipientID: r.recipientID,
	})
	if err != nil {
		return err
	}
	count, err := r.store.UnreadCount(ctx, r.recipientID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.notifications = notifications
	r.unreadCount = count
	r.countStale = false
	r.listStale = false
	r.lastSyncedAt = time.Now()
	r.notifyLocked()
	return nil
}

// MarkRead writes the read state through the store, then invalidates the
// cache and resyncs. The cache never flips is_read ahead of the store.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	if _, err := r.store.MarkRead(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return r.Resync(ctx)
}

// MarkAllRead marks every unread notification read via the store and resyncs.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	if _, err := r.store.MarkAllRead(ctx, r.recipientID); err != nil {
		return err
	}
	r.invalidate()
	return r.Resync(ctx)
}

// Delete removes a notification via the store and resyncs.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteNotification(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return r.Resync(ctx)
}

func (r *Reconciler) invalidate() {
	r.mu.Lock()
	r.countStale = true
	r.listStale = true
	r.notifyLocked()
}

// notifyLocked releases the lock and fires OnChange with the snapshot taken
// under it. Callers must hold r.mu.
func (r *Reconciler) notifyLocked() {
	callback := r.OnChange
	var snapshot Snapshot
	if callback != nil {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()
	if callback != nil {
		callback(snapshot)
	}
}

// decodeNotificationPayload converts the opaque frame payload into a DTO.
// Push payloads are best effort; anything unparsable is dropped and the
// resync picks the record up.
func decodeNotificationPayload(payload any) (services.NotificationDTO, bool) {
	if payload == nil {
		return services.NotificationDTO{}, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return services.NotificationDTO{}, false
	}
	var dto services.NotificationDTO
	if err := json.Unmarshal(raw, &dto); err != nil || dto.ID == "" {
		return services.NotificationDTO{}, false
	}
	return dto, true
}
