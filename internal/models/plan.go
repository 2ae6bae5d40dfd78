package models

import (
	"time"

	"gorm.io/datatypes"
)

// PlanTier identifies a subscription tier.
type PlanTier string

// PlanTier constants define the supported tiers.
const (
	// PlanTierFree is the default tier for users without a subscription.
	PlanTierFree PlanTier = "FREE"
	// PlanTierBasic is the entry paid tier.
	PlanTierBasic PlanTier = "BASIC"
	// PlanTierPremium is the unlimited paid tier.
	PlanTierPremium PlanTier = "PREMIUM"
)

// LimitType classifies how a plan limit value is interpreted.
type LimitType string

// LimitType constants define plan limit interpretations.
const (
	// LimitTypeBoolean treats the limit value as an on/off toggle.
	LimitTypeBoolean LimitType = "boolean"
	// LimitTypeDaily caps usage per calendar day.
	LimitTypeDaily LimitType = "daily"
	// LimitTypeMonthly caps usage per calendar month.
	LimitTypeMonthly LimitType = "monthly"
)

// Plan represents a subscription plan configuration.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Tier PlanTier `gorm:"type:varchar(16);not null;uniqueIndex"` // Tier identifier.

	Name        string  `gorm:"type:varchar(255);not null"`            // Display name.
	MonthPrice  float64 `gorm:"type:decimal(10,2);not null;default:0"` // Monthly price.
	Description string  `gorm:"type:text"`                             // Plan description.

	Perks datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Marketing perk list.

	SortOrder int `gorm:"not null;default:0"` // Display ordering weight.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PlanLimit stores one feature limit for a plan tier.
type PlanLimit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanTier   PlanTier  `gorm:"type:varchar(16);not null;uniqueIndex:idx_plan_limits_tier_feature"` // Owning tier.
	FeatureKey string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_plan_limits_tier_feature"` // Feature identifier.
	LimitValue int       `gorm:"not null;default:0"`                                                 // Limit value, boolean limits use >0 as enabled.
	LimitType  LimitType `gorm:"type:varchar(16);not null"`                                          // Limit interpretation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
