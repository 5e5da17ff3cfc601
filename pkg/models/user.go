package models

import "time"

// User represents a registered chat user account
type User struct {
	ID           string    `json:"id" gorm:"type:varchar(8);primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(64);uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"type:varchar(128)"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}
