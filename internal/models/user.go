package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the minimal identity record the delivery service needs: it
// validates that notification recipients exist and carries the role used
// during the realtime handshake. Account management lives elsewhere.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Role     string `gorm:"type:varchar(32);default:'member'" json:"role"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
