package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/utils"
	"gorm.io/gorm"
)

// DialStatus represents the dialing state of a campaign contact
type DialStatus string

const (
	DialStatusPending   DialStatus = "pending"
	DialStatusCalling   DialStatus = "calling"
	DialStatusCompleted DialStatus = "completed"
	DialStatusFailed    DialStatus = "failed"
	DialStatusSkipped   DialStatus = "skipped"
)

// String returns the string representation of the status
func (s DialStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DialStatus) Valid() bool {
	switch s {
	case DialStatusPending, DialStatusCalling, DialStatusCompleted,
		DialStatusFailed, DialStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the dial status is a resolved end state
func (s DialStatus) IsTerminal() bool {
	switch s {
	case DialStatusCompleted, DialStatusFailed, DialStatusSkipped:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for DialStatus
func (s *DialStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DialStatus(v)
	case []byte:
		*s = DialStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DialStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DialStatus
func (s DialStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DialStatus: %s", s)
	}
	return string(s), nil
}

// CampaignContact is the claim-queue entry joining one campaign to one
// contact. The in_flight flag is the mutual-exclusion bit preventing two
// workers from claiming the same entry; claimed_at is the lease timestamp
// the recovery sweep uses to requeue abandoned claims.
type CampaignContact struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CampaignID   uint       `gorm:"not null;uniqueIndex:uk_campaign_contacts_pair;index:idx_campaign_contacts_campaign_id" json:"campaign_id"`
	ContactID    uint       `gorm:"not null;uniqueIndex:uk_campaign_contacts_pair" json:"contact_id"`
	CallStatus   DialStatus `gorm:"type:dial_status;not null;default:'pending';index:idx_campaign_contacts_call_status" json:"call_status"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	InFlight     bool       `gorm:"not null;default:false;index:idx_campaign_contacts_in_flight" json:"in_flight"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CallID       *uint      `json:"call_id,omitempty"`
	CreatedAt    time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaign_contacts_created_at" json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`

	// Relations
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Contact  *Contact  `gorm:"foreignKey:ContactID;references:ID" json:"contact,omitempty"`
	Call     *Call     `gorm:"foreignKey:CallID;references:ID" json:"call,omitempty"`
}

// TableName returns the table name for the model
func (CampaignContact) TableName() string {
	return "campaign_contacts"
}

// BeforeCreate is called before creating a new record
func (cc *CampaignContact) BeforeCreate(tx *gorm.DB) error {
	if cc.CallStatus == "" {
		cc.CallStatus = DialStatusPending
	}
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (cc *CampaignContact) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	cc.UpdatedAt = &now
	return nil
}

// Claimable reports whether the entry is eligible for claiming given the
// campaign's attempt ceiling.
func (cc *CampaignContact) Claimable(maxAttempts int) bool {
	if cc.InFlight {
		return false
	}
	switch cc.CallStatus {
	case DialStatusPending:
		return true
	case DialStatusFailed:
		return cc.AttemptCount < maxAttempts
	default:
		return false
	}
}

// DialStatusCounts aggregates claim-queue entries per dial status
type DialStatusCounts struct {
	Pending   int64 `json:"pending"`
	Calling   int64 `json:"calling"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Unresolved returns the number of entries not yet in a terminal state
func (c DialStatusCounts) Unresolved() int64 {
	return c.Pending + c.Calling
}
