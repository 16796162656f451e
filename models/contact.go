package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactStatus represents the lifecycle status of a contact
type ContactStatus string

const (
	ContactStatusNew    ContactStatus = "new"
	ContactStatusActive ContactStatus = "active"
	ContactStatusDone   ContactStatus = "done"
)

// String returns the string representation of the status
func (s ContactStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusNew, ContactStatusActive, ContactStatusDone:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ContactStatus
func (s *ContactStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ContactStatus(v)
	case []byte:
		*s = ContactStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ContactStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ContactStatus
func (s ContactStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ContactStatus: %s", s)
	}
	return string(s), nil
}

// ContactOutcome represents the final disposition of a contact
type ContactOutcome string

const (
	ContactOutcomeInterested    ContactOutcome = "interested"
	ContactOutcomeBooked        ContactOutcome = "booked"
	ContactOutcomeUnreachable   ContactOutcome = "unreachable"
	ContactOutcomeNotInterested ContactOutcome = "not_interested"
	ContactOutcomeWrongNumber   ContactOutcome = "wrong_number"
	ContactOutcomeDNC           ContactOutcome = "dnc"
	ContactOutcomeUnqualified   ContactOutcome = "unqualified"
)

// Valid checks if the outcome is valid
func (o ContactOutcome) Valid() bool {
	switch o {
	case ContactOutcomeInterested, ContactOutcomeBooked, ContactOutcomeUnreachable,
		ContactOutcomeNotInterested, ContactOutcomeWrongNumber, ContactOutcomeDNC,
		ContactOutcomeUnqualified:
		return true
	default:
		return false
	}
}

// Terminal reports whether the outcome closes the contact for further dialing
func (o ContactOutcome) Terminal() bool {
	switch o {
	case ContactOutcomeBooked, ContactOutcomeNotInterested,
		ContactOutcomeWrongNumber, ContactOutcomeDNC, ContactOutcomeUnqualified:
		return true
	default:
		return false
	}
}

// Contact represents a lead in the database. The aggregate counters are
// monotonically non-decreasing and only ever mutated through atomic
// store-side increments.
type Contact struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_contacts_uuid" json:"uuid"`
	OrganizationID uint            `gorm:"not null;index:idx_contacts_organization_id" json:"organization_id"`
	FirstName      string          `gorm:"size:100" json:"first_name"`
	LastName       string          `gorm:"size:100" json:"last_name"`
	PhoneNumber    string          `gorm:"size:32;not null;index:idx_contacts_phone_number" json:"phone_number"`
	Email          *string         `gorm:"size:255" json:"email,omitempty"`
	Status         ContactStatus   `gorm:"type:contact_status;not null;default:'new';index:idx_contacts_status" json:"status"`
	Outcome        *ContactOutcome `gorm:"type:contact_outcome" json:"outcome,omitempty"`
	CallAttempts   int             `gorm:"not null;default:0" json:"call_attempts"`
	CallsConnected int             `gorm:"not null;default:0" json:"calls_connected"`
	SMSSent        int             `gorm:"column:sms_sent;not null;default:0" json:"sms_sent"`
	Notes          *string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt      time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`

	// Relations
	Organization *Organization `gorm:"foreignKey:OrganizationID;references:ID" json:"organization,omitempty"`
}

// TableName returns the table name for the model
func (Contact) TableName() string {
	return "contacts"
}

// BeforeCreate is called before creating a new record
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ContactStatusNew
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Contact) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// ContactFilter represents filter criteria for contacts
type ContactFilter struct {
	ID             *uint           `json:"id,omitempty"`
	UUID           *uuid.UUID      `json:"uuid,omitempty"`
	OrganizationID *uint           `json:"organization_id,omitempty"`
	PhoneNumber    *string         `json:"phone_number,omitempty"`
	Status         *ContactStatus  `json:"status,omitempty"`
	Outcome        *ContactOutcome `json:"outcome,omitempty"`
}
