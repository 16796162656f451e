package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the status of a dialing campaign
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled,
		CampaignStatusInProgress, CampaignStatusPaused,
		CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

const (
	// DefaultTimezone is applied when a campaign does not set one
	DefaultTimezone = "America/New_York"
	// DefaultMaxConcurrentCalls caps in-flight dials per campaign unless overridden
	DefaultMaxConcurrentCalls = 5
	// DefaultMaxAttempts is the per-contact retry ceiling
	DefaultMaxAttempts = 3
)

// Campaign represents an outbound dialing campaign in the database
type Campaign struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	UUID               uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	OrganizationID     uint           `gorm:"not null;index:idx_campaigns_organization_id" json:"organization_id"`
	AgentID            *uint          `gorm:"index:idx_campaigns_agent_id" json:"agent_id,omitempty"`
	Name               string         `gorm:"size:255;not null" json:"name"`
	Description        *string        `gorm:"type:text" json:"description,omitempty"`
	Status             CampaignStatus `gorm:"type:campaign_status;not null;default:'draft';index:idx_campaigns_status" json:"status"`
	TotalContacts      int            `gorm:"not null;default:0" json:"total_contacts"`
	CallsCompleted     int            `gorm:"not null;default:0" json:"calls_completed"`
	MaxConcurrentCalls int            `gorm:"not null;default:5" json:"max_concurrent_calls"`
	DailyCap           *int           `json:"daily_cap,omitempty"`
	CallWindowStart    *string        `gorm:"size:5" json:"call_window_start,omitempty"` // "HH:MM" local time
	CallWindowEnd      *string        `gorm:"size:5" json:"call_window_end,omitempty"`   // "HH:MM" local time
	Timezone           string         `gorm:"size:64;not null;default:'America/New_York'" json:"timezone"`
	MaxAttempts        int            `gorm:"not null;default:3" json:"max_attempts"`
	ScheduledAt        *time.Time     `gorm:"index:idx_campaigns_scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt          *time.Time     `json:"updated_at,omitempty"`

	// Relations
	Organization *Organization     `gorm:"foreignKey:OrganizationID;references:ID" json:"organization,omitempty"`
	Agent        *Agent            `gorm:"foreignKey:AgentID;references:ID" json:"agent,omitempty"`
	Contacts     []CampaignContact `gorm:"foreignKey:CampaignID" json:"contacts,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the campaign can transition to the given status.
// cancelled is reachable from every non-terminal state; completed is only
// reached from in_progress (driven by the reconciler).
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	if c.Status.IsTerminal() {
		return false
	}
	if newStatus == CampaignStatusCancelled {
		return true
	}
	switch c.Status {
	case CampaignStatusDraft:
		return newStatus == CampaignStatusScheduled || newStatus == CampaignStatusInProgress
	case CampaignStatusScheduled:
		return newStatus == CampaignStatusInProgress
	case CampaignStatusInProgress:
		return newStatus == CampaignStatusPaused || newStatus == CampaignStatusCompleted
	case CampaignStatusPaused:
		return newStatus == CampaignStatusInProgress
	default:
		return false
	}
}

// WithinCallWindow reports whether now falls inside the campaign's local
// call window. A campaign with either bound unset is unrestricted. Windows
// may wrap midnight (start > end). Bounds are inclusive.
func (c *Campaign) WithinCallWindow(now time.Time) (bool, error) {
	if c.CallWindowStart == nil || c.CallWindowEnd == nil {
		return true, nil
	}

	local, err := utils.InZone(now, c.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid campaign timezone %q: %w", c.Timezone, err)
	}

	start, err := parseWindowBound(*c.CallWindowStart)
	if err != nil {
		return false, err
	}
	end, err := parseWindowBound(*c.CallWindowEnd)
	if err != nil {
		return false, err
	}

	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute <= end, nil
	}
	// Window wraps midnight
	return minute >= start || minute <= end, nil
}

// LocalDayBounds returns the UTC bounds of the current calendar day in the
// campaign's timezone, used for daily cap accounting.
func (c *Campaign) LocalDayBounds(now time.Time) (time.Time, time.Time, error) {
	return utils.DayBoundsIn(now, c.Timezone)
}

// parseWindowBound parses a "HH:MM" time-of-day into minutes since midnight
func parseWindowBound(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid call window bound %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid call window hour %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid call window minute %q", v)
	}
	return h*60 + m, nil
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID             *uint           `json:"id,omitempty"`
	UUID           *uuid.UUID      `json:"uuid,omitempty"`
	OrganizationID *uint           `json:"organization_id,omitempty"`
	AgentID        *uint           `json:"agent_id,omitempty"`
	Status         *CampaignStatus `json:"status,omitempty"`
	CreatedAfter   *time.Time      `json:"created_after,omitempty"`
	CreatedBefore  *time.Time      `json:"created_before,omitempty"`
}
