package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/middleware"
	"github.com/larkvale/pulsenote/internal/publisher"
	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/internal/services"
	"github.com/larkvale/pulsenote/pkg/errors"
	"github.com/larkvale/pulsenote/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notifications.
type NotificationHandler struct {
	service   *services.NotificationService
	publisher *publisher.Publisher
	hub       *realtime.Hub
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(db *gorm.DB, hub *realtime.Hub) (*NotificationHandler, error) {
	service, err := services.NewNotificationService(db)
	if err != nil {
		return nil, err
	}
	pub, err := publisher.New(service, hub)
	if err != nil {
		return nil, err
	}
	return &NotificationHandler{
		service:   service,
		publisher: pub,
		hub:       hub,
	}, nil
}

// List returns notifications for the current user.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.service.ListForRecipient(c.Request.Context(), services.ListNotificationsInput{
		RecipientID: userID,
		Limit:       parseIntQuery(c, "limit", 25),
		Offset:      parseIntQuery(c, "offset", 0),
		UnreadOnly:  parseBoolQuery(c, "unread"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// UnreadCount returns the unread total for the current user.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"count": count})
}

// MarkRead marks a single notification read and fans the state change out to
// the recipient's other sessions.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	dto, err := h.service.MarkRead(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.publisher.NotifyReadStateChanged(c.Request.Context(), userID)
	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead marks all of the user's notifications read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	updated, err := h.service.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if updated > 0 {
		h.publisher.NotifyReadStateChanged(c.Request.Context(), userID)
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		response.Error(c, err)
		return
	}

	h.publisher.NotifyReadStateChanged(c.Request.Context(), userID)
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Create persists and publishes a notification. Producers (graders, report
// builders, lock managers) call this on behalf of a recipient.
func (h *NotificationHandler) Create(c *gin.Context) {
	var payload struct {
		RecipientID   string         `json:"recipient_id" validate:"required"`
		Type          string         `json:"type" validate:"required"`
		Title         string         `json:"title" validate:"required"`
		Message       string         `json:"message"`
		Priority      string         `json:"priority"`
		RelatedEntity map[string]any `json:"related_entity"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.publisher.Publish(c.Request.Context(), services.CreateNotificationInput{
		RecipientID:   payload.RecipientID,
		Type:          payload.Type,
		Title:         payload.Title,
		Message:       payload.Message,
		Priority:      payload.Priority,
		RelatedEntity: payload.RelatedEntity,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}
