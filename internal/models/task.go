package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

// TaskStatus constants define generation task lifecycle states.
const (
	// TaskStatusPending marks a task created locally but not yet acknowledged by the renderer.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing marks a task acknowledged by the renderer.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted marks a task that produced a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed marks a task that ended without a usable result.
	TaskStatusFailed TaskStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// GenerationTask records one externally rendered card generation job.
type GenerationTask struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CardID string `gorm:"type:varchar(64);not null;uniqueIndex"` // Client-facing card identifier.

	ExternalTaskID *string `gorm:"type:varchar(255);uniqueIndex"` // Renderer task id, set on acknowledgement.

	UserID *uint64 `gorm:"index"`                // Owning user, nil for anonymous generation.
	User   *User   `gorm:"foreignKey:UserID"`    // Owning user record.

	CardType string         `gorm:"type:varchar(64);not null"`        // Card template category.
	Params   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Render parameters passed through to the renderer.

	Status TaskStatus `gorm:"type:varchar(16);not null;default:pending;index"` // Current lifecycle status.

	ResultURL   *string        `gorm:"type:text"`                        // Result reference, set only when completed.
	ResultURLs  datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // All result URLs reported by the renderer.
	ErrorReason *string        `gorm:"type:text"`                        // Failure reason, set only when failed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
