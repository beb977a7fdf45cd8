package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/realtime"
	"github.com/larkvale/pulsenote/pkg/errors"
	"github.com/larkvale/pulsenote/pkg/response"
)

// Health returns a status payload with a database ping and live hub stats,
// useful for readiness checks.
func Health(db *gorm.DB, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				response.Error(c, errors.ErrStoreUnavailable.WithInternal(err))
				return
			}
			payload["database"] = "ok"
		}

		if hub != nil {
			stats := hub.Stats()
			payload["recipients"] = stats.Recipients
			payload["sessions"] = stats.Sessions
		}

		response.Success(c, http.StatusOK, payload)
	}
}
