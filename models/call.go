package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CallStatus represents the status of a single dialing attempt
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusVoicemail  CallStatus = "voicemail"
	CallStatusFailed     CallStatus = "failed"
)

// String returns the string representation of the status
func (s CallStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusQueued, CallStatusRinging, CallStatusInProgress,
		CallStatusCompleted, CallStatusNoAnswer, CallStatusBusy,
		CallStatusVoicemail, CallStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the call has reached a final state
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusNoAnswer, CallStatusBusy,
		CallStatusVoicemail, CallStatusFailed:
		return true
	default:
		return false
	}
}

// Retryable reports whether the terminal status counts as a transient
// provider failure eligible for another attempt (no answer, busy,
// voicemail). Hard failures and successes are not retryable.
func (s CallStatus) Retryable() bool {
	switch s {
	case CallStatusNoAnswer, CallStatusBusy, CallStatusVoicemail:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CallStatus
func (s *CallStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CallStatus(v)
	case []byte:
		*s = CallStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CallStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CallStatus
func (s CallStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CallStatus: %s", s)
	}
	return string(s), nil
}

// CallDirection distinguishes outbound campaign dials from inbound calls
type CallDirection string

const (
	CallDirectionOutbound CallDirection = "outbound"
	CallDirectionInbound  CallDirection = "inbound"
)

// Call is the record of a single dialing attempt. Once finalized with a
// terminal status the row is immutable; finalization is guarded in the
// repository so duplicate provider callbacks cannot rewrite it.
type Call struct {
	ID                  uint          `gorm:"primaryKey" json:"id"`
	UUID                uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:uk_calls_uuid" json:"uuid"`
	OrganizationID      uint          `gorm:"not null;index:idx_calls_organization_id" json:"organization_id"`
	CampaignID          *uint         `gorm:"index:idx_calls_campaign_id" json:"campaign_id,omitempty"`
	ContactID           *uint         `gorm:"index:idx_calls_contact_id" json:"contact_id,omitempty"`
	AgentID             *uint         `json:"agent_id,omitempty"`
	ProviderCallID      *string       `gorm:"size:128;uniqueIndex:uk_calls_provider_call_id" json:"provider_call_id,omitempty"`
	Direction           CallDirection `gorm:"size:16;not null;default:'outbound'" json:"direction"`
	Status              CallStatus    `gorm:"type:call_status;not null;default:'queued';index:idx_calls_status" json:"status"`
	FromNumber          string        `gorm:"size:32" json:"from_number"`
	ToNumber            string        `gorm:"size:32;not null" json:"to_number"`
	StartedAt           *time.Time    `gorm:"index:idx_calls_started_at" json:"started_at,omitempty"`
	EndedAt             *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds     *int          `json:"duration_seconds,omitempty"`
	Transcript          *string       `gorm:"type:text" json:"transcript,omitempty"`
	Summary             *string       `gorm:"type:text" json:"summary,omitempty"`
	Sentiment           *string       `gorm:"size:32" json:"sentiment,omitempty"`
	DisconnectionReason *string       `gorm:"size:128" json:"disconnection_reason,omitempty"`
	CreatedAt           time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt           *time.Time    `json:"updated_at,omitempty"`

	// Relations
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Contact  *Contact  `gorm:"foreignKey:ContactID;references:ID" json:"contact,omitempty"`
	Agent    *Agent    `gorm:"foreignKey:AgentID;references:ID" json:"agent,omitempty"`
}

// TableName returns the table name for the model
func (Call) TableName() string {
	return "calls"
}

// BeforeCreate is called before creating a new record
func (c *Call) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Direction == "" {
		c.Direction = CallDirectionOutbound
	}
	if c.Status == "" {
		c.Status = CallStatusQueued
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Call) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CallFilter represents filter criteria for calls
type CallFilter struct {
	ID             *uint       `json:"id,omitempty"`
	UUID           *uuid.UUID  `json:"uuid,omitempty"`
	OrganizationID *uint       `json:"organization_id,omitempty"`
	CampaignID     *uint       `json:"campaign_id,omitempty"`
	ContactID      *uint       `json:"contact_id,omitempty"`
	Status         *CallStatus `json:"status,omitempty"`
	StartedAfter   *time.Time  `json:"started_after,omitempty"`
	StartedBefore  *time.Time  `json:"started_before,omitempty"`
}
