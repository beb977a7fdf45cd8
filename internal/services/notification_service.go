package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/models"
	apperrors "github.com/larkvale/pulsenote/pkg/errors"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID            string         `json:"id"`
	RecipientID   string         `json:"recipient_id"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Priority      string         `json:"priority"`
	RelatedEntity map[string]any `json:"related_entity,omitempty"`
	IsRead        bool           `json:"is_read"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ReadAt        *time.Time     `json:"read_at,omitempty"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	RecipientID   string
	Type          string
	Title         string
	Message       string
	Priority      string
	RelatedEntity map[string]any
}

// ListNotificationsInput defines filters for querying recipient notifications.
type ListNotificationsInput struct {
	RecipientID string
	Limit       int
	Offset      int
	UnreadOnly  bool
}

// NotificationService is the durable record store for notifications. It owns
// persistence only; push delivery is composed on top by the publisher.
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db}, nil
}

// Create persists a new notification record.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	recipientID := strings.TrimSpace(input.RecipientID)
	if recipientID == "" {
		return nil, errors.New("notification service: recipient id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, errors.New("notification service: type is required")
	}

	notification := models.Notification{
		RecipientID: recipientID,
		Type:        notificationType,
		Title:       strings.TrimSpace(input.Title),
		Message:     strings.TrimSpace(input.Message),
		Priority:    normalizePriority(input.Priority),
	}

	if input.RelatedEntity != nil {
		data, err := json.Marshal(input.RelatedEntity)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal related entity: %w", err)
		}
		notification.RelatedEntity = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	return &dto, nil
}

// ListForRecipient returns notifications for the supplied recipient ordered by recency.
func (s *NotificationService) ListForRecipient(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	recipientID := strings.TrimSpace(input.RecipientID)
	if recipientID == "" {
		return nil, errors.New("notification service: recipient id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset))

	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	return mapNotificationRows(rows), nil
}

// UnreadCount returns the authoritative unread total for a recipient.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, errors.New("notification service: recipient id is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: unread count: %w", err)
	}

	return count, nil
}

// MarkRead flips a notification to read. ReadAt is set exactly once, on the
// false-to-true transition; marking an already-read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, notificationID string) (*NotificationDTO, error) {
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	if notification.IsRead {
		dto := mapNotification(notification)
		return &dto, nil
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&notification).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		}).Error; err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}

	notification.IsRead = true
	notification.ReadAt = &now

	dto := mapNotification(notification)
	return &dto, nil
}

// MarkAllRead marks every unread notification for the recipient as read and
// returns the number of rows affected.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, errors.New("notification service: recipient id is required")
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// Delete permanently removes a notification owned by the supplied recipient.
func (s *NotificationService) Delete(ctx context.Context, recipientID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:            row.ID,
		RecipientID:   row.RecipientID,
		Type:          row.Type,
		Title:         row.Title,
		Message:       row.Message,
		Priority:      normalizePriority(row.Priority),
		RelatedEntity: decodeJSON(row.RelatedEntity),
		IsRead:        row.IsRead,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		ReadAt:        row.ReadAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func normalizePriority(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case models.PriorityLow:
		return models.PriorityLow
	case models.PriorityHigh:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
