package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/larkvale/pulsenote/internal/auth"
	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/pkg/errors"
	"github.com/larkvale/pulsenote/pkg/response"
)

// StreamHandler upgrades authenticated requests to notification sockets.
type StreamHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(hub *realtime.Hub, jwt *iauth.JWTService) (*StreamHandler, error) {
	if hub == nil {
		return nil, errors.New("STREAM_HUB_REQUIRED", "stream handler requires a hub", 500)
	}
	if jwt == nil {
		return nil, errors.New("STREAM_JWT_REQUIRED", "stream handler requires a jwt service", 500)
	}
	return &StreamHandler{hub: hub, jwt: jwt}, nil
}

// Stream validates the token and hands the connection to the hub. Browsers
// cannot set headers on WebSocket upgrades, so the token is accepted as a
// query parameter as well as a bearer header.
func (h *StreamHandler) Stream(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(claims.UserID, claims.Role, c.Writer, c.Request)
}
