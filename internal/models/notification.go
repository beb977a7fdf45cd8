package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification kinds produced by the assessment platform.
const (
	TypeAssessmentCompleted = "assessment_completed"
	TypeEditRequestApproved = "edit_request_approved"
	TypeReportReady         = "report_ready"
	TypeAssessmentLocked    = "assessment_locked"
	TypeAssessmentUnlocked  = "assessment_unlocked"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Notification represents a delivered or pending in-app notification for a recipient.
// Deletion is permanent; there is no soft-delete column.
type Notification struct {
	BaseModel

	RecipientID string `gorm:"type:uuid;index;not null" json:"recipient_id"`
	Type        string `gorm:"type:varchar(64);not null" json:"type"`
	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Message     string `gorm:"type:text" json:"message"`
	Priority    string `gorm:"type:varchar(16);default:'medium'" json:"priority"`

	// RelatedEntity is an opaque reference used only for client navigation;
	// the transport layer never interprets it.
	RelatedEntity datatypes.JSON `json:"related_entity,omitempty"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
