package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the engine's view of an identity issued elsewhere. The streak
// columns are a cache refreshed after each accepted take; takes stay the
// source of truth.
type User struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Username              string    `gorm:"size:64;not null" json:"username"`
	TimezoneOffsetMinutes int       `gorm:"not null" json:"timezone_offset_minutes"`
	CurrentStreak         int       `gorm:"default:0" json:"current_streak"`
	LongestStreak         int       `gorm:"default:0" json:"longest_streak"`
	LastTakeDate          string    `gorm:"size:10" json:"last_take_date"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
