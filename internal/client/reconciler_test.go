package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/internal/services"
)

// fakeStore is an in-memory StoreClient with injectable failures.
type fakeStore struct {
	mu            sync.Mutex
	notifications []services.NotificationDTO
	failNext      error

	listCalls    int
	markAllCalls int
}

func (s *fakeStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *fakeStore) ListNotifications(ctx context.Context, input services.ListNotificationsInput) ([]services.NotificationDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]services.NotificationDTO, len(s.notifications))
	copy(out, s.notifications)
	return out, nil
}

func (s *fakeStore) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, item := range s.notifications {
		if !item.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id string) (services.NotificationDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return services.NotificationDTO{}, err
	}
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].IsRead = true
			return s.notifications[i], nil
		}
	}
	return services.NotificationDTO{}, errors.New("not found")
}

func (s *fakeStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markAllCalls++
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	var updated int64
	for i := range s.notifications {
		if !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (s *fakeStore) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func seedStore(ids ...string) *fakeStore {
	store := &fakeStore{}
	for _, id := range ids {
		store.notifications = append(store.notifications, services.NotificationDTO{
			ID:          id,
			RecipientID: "user-1",
			Type:        "report_ready",
			Title:       "Report ready",
		})
	}
	return store
}

func TestResyncReplacesCache(t *testing.T) {
	store := seedStore("n1", "n2")
	reconciler := NewReconciler(store, "user-1", 0)

	initial := reconciler.Snapshot()
	assert.True(t, initial.CountStale)
	assert.True(t, initial.ListStale)

	require.NoError(t, reconciler.Resync(context.Background()))

	snapshot := reconciler.Snapshot()
	assert.Len(t, snapshot.Notifications, 2)
	assert.Equal(t, int64(2), snapshot.UnreadCount)
	assert.False(t, snapshot.CountStale)
	assert.False(t, snapshot.ListStale)
	assert.False(t, snapshot.LastSyncedAt.IsZero())
}

func TestResyncFailureLeavesCacheUntouched(t *testing.T) {
	store := seedStore("n1")
	reconciler := NewReconciler(store, "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	before := reconciler.Snapshot()

	store.mu.Lock()
	store.failNext = errors.New("store down")
	store.mu.Unlock()
	err := reconciler.Resync(context.Background())
	require.Error(t, err)

	after := reconciler.Snapshot()
	assert.Equal(t, before.Notifications, after.Notifications)
	assert.Equal(t, before.UnreadCount, after.UnreadCount)

	// the store recovers and the next resync converges again
	store.mu.Lock()
	store.notifications = append(store.notifications, services.NotificationDTO{ID: "n2", RecipientID: "user-1"})
	store.mu.Unlock()
	require.NoError(t, reconciler.Resync(context.Background()))
	assert.Len(t, reconciler.Snapshot().Notifications, 2)
}

func TestApplyFrameAdoptsCarriedCount(t *testing.T) {
	reconciler := NewReconciler(seedStore(), "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	count := int64(7)
	reconciler.ApplyFrame(realtime.Frame{
		Type:  realtime.FrameNewNotification,
		Count: &count,
		Notification: map[string]any{
			"id":           "n9",
			"recipient_id": "user-1",
			"type":         "report_ready",
			"title":        "Report ready",
		},
	})

	snapshot := reconciler.Snapshot()
	assert.Equal(t, int64(7), snapshot.UnreadCount)
	assert.False(t, snapshot.CountStale)
	assert.True(t, snapshot.ListStale)
	require.NotEmpty(t, snapshot.Notifications)
	assert.Equal(t, "n9", snapshot.Notifications[0].ID)
}

func TestApplyFrameWithoutCountMarksStale(t *testing.T) {
	reconciler := NewReconciler(seedStore("n1"), "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	reconciler.ApplyFrame(realtime.Frame{Type: realtime.FrameNewNotification})

	snapshot := reconciler.Snapshot()
	assert.True(t, snapshot.CountStale)
	assert.True(t, snapshot.ListStale)
}

func TestApplyReadFrameMarksStale(t *testing.T) {
	reconciler := NewReconciler(seedStore("n1"), "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	reconciler.ApplyFrame(realtime.Frame{Type: realtime.FrameNotificationRead})

	snapshot := reconciler.Snapshot()
	assert.True(t, snapshot.CountStale)
	assert.True(t, snapshot.ListStale)
}

func TestMarkAllReadWritesThroughAndResyncs(t *testing.T) {
	store := seedStore("n1", "n2", "n3")
	reconciler := NewReconciler(store, "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	require.NoError(t, reconciler.MarkAllRead(context.Background()))

	snapshot := reconciler.Snapshot()
	assert.Equal(t, int64(0), snapshot.UnreadCount)
	assert.False(t, snapshot.CountStale)
	assert.False(t, snapshot.ListStale)
	for _, item := range snapshot.Notifications {
		assert.True(t, item.IsRead)
	}
	assert.Equal(t, 1, store.markAllCalls)
}

func TestMarkReadFailureSurfacesWithoutOptimisticUpdate(t *testing.T) {
	store := seedStore("n1")
	reconciler := NewReconciler(store, "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	store.mu.Lock()
	store.failNext = errors.New("store down")
	store.mu.Unlock()

	err := reconciler.MarkRead(context.Background(), "n1")
	require.Error(t, err)

	snapshot := reconciler.Snapshot()
	require.Len(t, snapshot.Notifications, 1)
	assert.False(t, snapshot.Notifications[0].IsRead, "cache must not flip ahead of the store")
}

func TestDeleteRemovesAfterResync(t *testing.T) {
	store := seedStore("n1", "n2")
	reconciler := NewReconciler(store, "user-1", 0)
	require.NoError(t, reconciler.Resync(context.Background()))

	require.NoError(t, reconciler.Delete(context.Background(), "n1"))

	snapshot := reconciler.Snapshot()
	require.Len(t, snapshot.Notifications, 1)
	assert.Equal(t, "n2", snapshot.Notifications[0].ID)
	assert.Equal(t, int64(1), snapshot.UnreadCount)
}

func TestRunResyncsPeriodically(t *testing.T) {
	store := seedStore("n1")
	reconciler := NewReconciler(store, "user-1", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciler.Run(ctx)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls >= 3
	}, "periodic resync never ran")
}

func TestCountlessFrameTriggersImmediateResync(t *testing.T) {
	store := seedStore("n1")
	// The interval is far longer than the test so any extra resync must come
	// from the frame, not the ticker.
	reconciler := NewReconciler(store, "user-1", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciler.Run(ctx)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls == 1
	}, "initial resync never ran")

	reconciler.ApplyFrame(realtime.Frame{Type: realtime.FrameNewNotification})

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls >= 2
	}, "frame without a count never forced a resync")

	waitFor(t, func() bool {
		snapshot := reconciler.Snapshot()
		return !snapshot.CountStale && !snapshot.ListStale
	}, "cache never converged after forced resync")
}

func TestOnChangeFiresWithSnapshot(t *testing.T) {
	store := seedStore("n1")
	reconciler := NewReconciler(store, "user-1", 0)

	var mu sync.Mutex
	var seen []Snapshot
	reconciler.OnChange = func(snapshot Snapshot) {
		mu.Lock()
		seen = append(seen, snapshot)
		mu.Unlock()
	}

	require.NoError(t, reconciler.Resync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, int64(1), seen[0].UnreadCount)
}
