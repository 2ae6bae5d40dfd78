package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;not null;uniqueIndex"` // Verified email address.
	Name  string `gorm:"type:text"`                      // Display name.

	PlanID *uint64 `gorm:"index"`             // Active plan ID, nil means FREE tier.
	Plan   *Plan   `gorm:"foreignKey:PlanID"` // Active plan record.

	SubscriptionStatus string     `gorm:"type:varchar(32)"` // Billing status reported by the payment collaborator.
	SubscriptionEndsAt *time.Time // Current billing period end, if subscribed.

	Active bool `gorm:"not null;default:true"` // Whether the user may start generations.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp. Drives the first-day welcome allowance.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
