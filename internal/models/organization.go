package models

import "time"

type Organization struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"   json:"id"`
	Name        string    `gorm:"not null"                      json:"name"`
	Code        string    `gorm:"uniqueIndex;not null;size:50"  json:"code"`
	Description string    `gorm:"type:text"                     json:"description,omitempty"`
	Website     string    `json:"website,omitempty"`
	Type        string    `gorm:"size:50"                       json:"type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}
