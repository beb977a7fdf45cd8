package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/larkvale/pulsenote/internal/database/testutil"
	"github.com/larkvale/pulsenote/internal/models"
	apperrors "github.com/larkvale/pulsenote/pkg/errors"
)

func newTestService(t *testing.T) *NotificationService {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewNotificationService(db)
	require.NoError(t, err)
	return svc
}

func TestCreateAndListForRecipient(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeReportReady,
		Title:       "Report ready",
		Message:     "Your Q3 report is available",
		Priority:    "HIGH",
		RelatedEntity: map[string]any{
			"assessment_id": "a-42",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, models.PriorityHigh, created.Priority)
	require.False(t, created.IsRead)
	require.Nil(t, created.ReadAt)

	_, err = svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-2",
		Type:        models.TypeAssessmentLocked,
		Title:       "Assessment locked",
	})
	require.NoError(t, err)

	items, err := svc.ListForRecipient(ctx, ListNotificationsInput{RecipientID: "recipient-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, created.ID, items[0].ID)
	require.Equal(t, "a-42", items[0].RelatedEntity["assessment_id"])
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeAssessmentCompleted,
		Title:       "Assessment submitted",
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeEditRequestApproved,
		Title:       "Edit request approved",
	})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "recipient-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	read, err := svc.MarkRead(ctx, "recipient-1", first.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	count, err = svc.UnreadCount(ctx, "recipient-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMarkReadSetsReadAtExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeReportReady,
		Title:       "Report ready",
	})
	require.NoError(t, err)

	first, err := svc.MarkRead(ctx, "recipient-1", created.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	time.Sleep(10 * time.Millisecond)

	second, err := svc.MarkRead(ctx, "recipient-1", created.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ReadAt)
	require.True(t, second.ReadAt.Equal(*first.ReadAt), "read_at must not change on repeat mark-read")
}

func TestMarkReadScopedToRecipient(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeReportReady,
		Title:       "Report ready",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "someone-else", created.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMarkAllRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateNotificationInput{
			RecipientID: "recipient-1",
			Type:        models.TypeReportReady,
			Title:       "Report ready",
		})
		require.NoError(t, err)
	}

	affected, err := svc.MarkAllRead(ctx, "recipient-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, affected)

	count, err := svc.UnreadCount(ctx, "recipient-1")
	require.NoError(t, err)
	require.Zero(t, count)

	// Second pass affects nothing.
	affected, err = svc.MarkAllRead(ctx, "recipient-1")
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestDeleteIsPermanent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateNotificationInput{
		RecipientID: "recipient-1",
		Type:        models.TypeReportReady,
		Title:       "Report ready",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "recipient-1", created.ID))

	items, err := svc.ListForRecipient(ctx, ListNotificationsInput{RecipientID: "recipient-1"})
	require.NoError(t, err)
	require.Empty(t, items)

	err = svc.Delete(ctx, "recipient-1", created.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
