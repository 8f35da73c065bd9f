package models

import "time"

// OrganizationContact is a named contact person of an organization. At most
// one contact per organization is the point person.
type OrganizationContact struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"          json:"id"`
	OrganizationID string    `gorm:"index;not null;type:varchar(36)"      json:"organization_id"`
	Names          string    `gorm:"not null"                             json:"names"`
	Title          string    `json:"title,omitempty"`
	Email          string    `gorm:"size:255"                             json:"email,omitempty"`
	Mobile         string    `gorm:"size:32"                              json:"mobile,omitempty"`
	PointPerson    bool      `gorm:"not null;default:false"               json:"point_person"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (OrganizationContact) TableName() string {
	return "organization_contacts"
}
