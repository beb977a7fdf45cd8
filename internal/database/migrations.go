package database

import (
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Notification{},
	)
}

// SeedData populates baseline records required by a fresh installation.
// The delivery service has no fixtures of its own; the hook exists so
// deployments can layer seed users for smoke testing.
func SeedData(db *gorm.DB) error {
	return nil
}
