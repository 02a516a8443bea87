package models

import "time"

// PromptDay is the challenge for one calendar day.
type PromptDay struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PromptDate string    `gorm:"size:10;uniqueIndex;not null" json:"prompt_date"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	IsActive   bool      `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
