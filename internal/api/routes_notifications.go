package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/larkvale/pulsenote/internal/auth"
	"github.com/larkvale/pulsenote/internal/handlers"
	"github.com/larkvale/pulsenote/internal/middleware"
	"github.com/larkvale/pulsenote/internal/realtime"
)

// registerNotificationRoutes mounts the notification REST surface and the
// WebSocket stream under /api.
func registerNotificationRoutes(r *gin.Engine, db *gorm.DB, jwt *iauth.JWTService, hub *realtime.Hub) error {
	notificationHandler, err := handlers.NewNotificationHandler(db, hub)
	if err != nil {
		return err
	}
	streamHandler, err := handlers.NewStreamHandler(hub, jwt)
	if err != nil {
		return err
	}

	api := r.Group("/api")

	// The stream endpoint authenticates its own token (query parameter or
	// bearer header) because browsers cannot set headers on upgrades.
	api.GET("/notifications/stream", streamHandler.Stream)

	authed := api.Group("", middleware.Auth(jwt))
	notifications := authed.Group("/notifications")
	{
		notifications.POST("", notificationHandler.Create)
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.DELETE("/:id", notificationHandler.Delete)
	}

	return nil
}
