package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/larkvale/pulsenote/internal/auth"
	"github.com/larkvale/pulsenote/internal/handlers"
	"github.com/larkvale/pulsenote/internal/middleware"
	"github.com/larkvale/pulsenote/internal/realtime"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, hub *realtime.Hub) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if hub == nil {
		return nil, fmt.Errorf("notification hub must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/healthz", handlers.Health(db, hub))

	if err := registerNotificationRoutes(r, db, jwt, hub); err != nil {
		return nil, err
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
