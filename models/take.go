package models

import "time"

// Take is a user's answer for exactly one prompt date. PromptDate is the
// logical day; CreatedAt is the real insertion time and differs from it for
// late takes. (user_id, prompt_date) is unique.
type Take struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_takes_user_date,priority:1" json:"user_id"`
	PromptDate   string    `gorm:"size:10;not null;uniqueIndex:idx_takes_user_date,priority:2;index" json:"prompt_date"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	IsAnonymous  bool      `gorm:"not null" json:"is_anonymous"`
	IsLateSubmit bool      `gorm:"not null" json:"is_late_submit"`
	CreatedAt    time.Time `json:"created_at"`
}
