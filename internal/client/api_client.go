package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	appErrors "github.com/larkvale/pulsenote/pkg/errors"

	"github.com/larkvale/pulsenote/internal/services"
)

// APIClient implements StoreClient over the REST surface using the standard
// response envelope. It is what out-of-process consumers (and the reconciler
// in client deployments) use to reach the store.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient builds a client for the given base URL (scheme://host[:port])
// authenticating with the bearer token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ListNotifications fetches the recipient's notifications. The server scopes
// results to the authenticated user; RecipientID on the input is informational
// here and only the paging filters are sent.
func (a *APIClient) ListNotifications(ctx context.Context, input services.ListNotificationsInput) ([]services.NotificationDTO, error) {
	query := url.Values{}
	if input.Limit > 0 {
		query.Set("limit", strconv.Itoa(input.Limit))
	}
	if input.Offset > 0 {
		query.Set("offset", strconv.Itoa(input.Offset))
	}
	if input.UnreadOnly {
		query.Set("unread", "true")
	}

	path := "/api/notifications"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var items []services.NotificationDTO
	if err := a.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// UnreadCount fetches the unread total for the authenticated user.
func (a *APIClient) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var payload struct {
		Count int64 `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// MarkRead marks one notification read and returns the updated record.
func (a *APIClient) MarkRead(ctx context.Context, id string) (services.NotificationDTO, error) {
	var dto services.NotificationDTO
	path := "/api/notifications/" + url.PathEscape(id) + "/read"
	if err := a.do(ctx, http.MethodPost, path, nil, &dto); err != nil {
		return services.NotificationDTO{}, err
	}
	return dto, nil
}

// MarkAllRead marks every unread notification read; returns how many changed.
func (a *APIClient) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	var payload struct {
		Updated int64 `json:"updated"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Updated, nil
}

// DeleteNotification removes a notification.
func (a *APIClient) DeleteNotification(ctx context.Context, id string) error {
	path := "/api/notifications/" + url.PathEscape(id)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

// CreateNotification publishes a notification through the REST surface. Not
// part of StoreClient; used by producer-side integrations.
func (a *APIClient) CreateNotification(ctx context.Context, input services.CreateNotificationInput) (services.NotificationDTO, error) {
	body := map[string]any{
		"recipient_id":   input.RecipientID,
		"type":           input.Type,
		"title":          input.Title,
		"message":        input.Message,
		"priority":       input.Priority,
		"related_entity": input.RelatedEntity,
	}
	var dto services.NotificationDTO
	if err := a.do(ctx, http.MethodPost, "/api/notifications", body, &dto); err != nil {
		return services.NotificationDTO{}, err
	}
	return dto, nil
}

func (a *APIClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return appErrors.ErrStoreUnavailable.WithInternal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErrors.ErrStoreUnavailable.WithInternal(err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return appErrors.ErrStoreUnavailable.WithInternal(
			fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err))
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		if env.Error != nil {
			return appErrors.New(env.Error.Code, env.Error.Message, resp.StatusCode)
		}
		return appErrors.New("API_ERROR", http.StatusText(resp.StatusCode), resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
