package models

import "time"

// Consent records the scopes a subject approved for a client.
// One row per (subject, client); re-consenting replaces the scope set.
type Consent struct {
	ID        int64       `gorm:"primaryKey;autoIncrement"                          json:"id"`
	Subject   string      `gorm:"not null;size:64;uniqueIndex:idx_consent_subject_client"  json:"subject"`
	ClientID  string      `gorm:"not null;size:100;uniqueIndex:idx_consent_subject_client" json:"client_id"`
	Scopes    StringArray `gorm:"type:json"                                         json:"scopes"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Covers reports whether every requested scope was previously approved
func (c *Consent) Covers(scopes []string) bool {
	for _, s := range scopes {
		if !c.Scopes.Contains(s) {
			return false
		}
	}
	return true
}

func (Consent) TableName() string {
	return "consents"
}
