package models

import "time"

// BonusCredit represents an out-of-band allowance grant.
type BonusCredit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user.
	User   *User  `gorm:"foreignKey:UserID"` // Owning user record.

	Amount int    `gorm:"not null"`           // Granted allowance, positive.
	Reason string `gorm:"type:text;not null"` // Grant reason, free text.

	ExpiresAt *time.Time `gorm:"index"` // Expiration time, nil means no expiry.

	Used   bool       `gorm:"not null;default:false;index"` // Whether the grant has been consumed.
	UsedAt *time.Time // Consumption time, if consumed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
