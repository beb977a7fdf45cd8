package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/database/testutil"
	"github.com/larkvale/pulsenote/internal/models"
)

func seedNotification(t *testing.T, db *gorm.DB, createdAt time.Time, readAt *time.Time) models.Notification {
	t.Helper()

	record := models.Notification{
		RecipientID: "user-1",
		Type:        models.TypeReportReady,
		Title:       "Report ready",
		IsRead:      readAt != nil,
		ReadAt:      readAt,
	}
	require.NoError(t, db.Create(&record).Error)
	// Overwrite the gorm-managed timestamp after insert.
	require.NoError(t, db.Model(&models.Notification{}).
		Where("id = ?", record.ID).
		UpdateColumn("created_at", createdAt).Error)
	return record
}

func timePtr(value time.Time) *time.Time { return &value }

func TestSweepRemovesExpiredReadNotifications(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now()

	expired := seedNotification(t, db, now.AddDate(0, 0, -130), timePtr(now.AddDate(0, 0, -100)))
	recentRead := seedNotification(t, db, now.AddDate(0, 0, -10), timePtr(now.AddDate(0, 0, -5)))
	unread := seedNotification(t, db, now.AddDate(0, 0, -130), nil)

	sweeper := NewSweeper(db, WithNow(func() time.Time { return now }))
	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ReadExpired)
	assert.Equal(t, int64(0), stats.AgedOut)

	var remaining []models.Notification
	require.NoError(t, db.Find(&remaining).Error)
	ids := make(map[string]bool, len(remaining))
	for _, item := range remaining {
		ids[item.ID] = true
	}
	assert.False(t, ids[expired.ID])
	assert.True(t, ids[recentRead.ID])
	assert.True(t, ids[unread.ID])
}

func TestSweepEnforcesHardAgeCap(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now()

	ancient := seedNotification(t, db, now.AddDate(0, 0, -200), nil)
	seedNotification(t, db, now.AddDate(0, 0, -10), nil)

	sweeper := NewSweeper(db, WithNow(func() time.Time { return now }))
	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AgedOut)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var gone int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("id = ?", ancient.ID).Count(&gone).Error)
	assert.Equal(t, int64(0), gone)
}

func TestSweepHonoursRetentionOverrides(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now()

	seedNotification(t, db, now.AddDate(0, 0, -3), timePtr(now.AddDate(0, 0, -2)))

	sweeper := NewSweeper(db,
		WithNow(func() time.Time { return now }),
		WithReadRetentionDays(1),
		WithMaxAgeDays(365),
	)
	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ReadExpired)
}

func TestSweeperStartRegistersCronJob(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	sweeper := NewSweeper(db, WithSchedule("@every 1h"))
	require.NoError(t, sweeper.Start())

	done := sweeper.Stop()
	select {
	case <-done.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSweepNilDatabaseIsNoop(t *testing.T) {
	sweeper := NewSweeper(nil)
	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ReadExpired)
	assert.Zero(t, stats.AgedOut)
	require.NoError(t, sweeper.RunOnce(context.Background()))
}
