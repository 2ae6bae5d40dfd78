package models

import "time"

// DailyUsage counts generation jobs started by a user within one calendar day.
//
// The row's existence is the "claimed" marker for the day: claiming creates it
// with a zero count and admissions increment the same counter, so "claimed but
// unused" and "claimed, N used" share one field.
type DailyUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_daily_usage_user_day"` // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`                             // Owning user record.

	Day time.Time `gorm:"not null;uniqueIndex:idx_daily_usage_user_day"` // Day boundary, normalized to the reset hour.

	Count int `gorm:"not null;default:0"` // Jobs started within the day. Incremented only, never decremented.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
