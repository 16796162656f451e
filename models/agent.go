package models

import (
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Agent represents a voice agent that places calls on behalf of a campaign
type Agent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_agents_uuid" json:"uuid"`
	OrganizationID uint       `gorm:"not null;index:idx_agents_organization_id" json:"organization_id"`
	Name           string     `gorm:"size:255;not null" json:"name"`
	Voice          *string    `gorm:"size:64" json:"voice,omitempty"`
	PhoneNumber    string     `gorm:"size:32;not null" json:"phone_number"` // caller ID for outbound dials
	Prompt         *string    `gorm:"type:text" json:"prompt,omitempty"`
	IsActive       *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`

	// Relations
	Organization *Organization `gorm:"foreignKey:OrganizationID;references:ID" json:"organization,omitempty"`
}

// TableName returns the table name for the model
func (Agent) TableName() string {
	return "agents"
}

// BeforeCreate is called before creating a new record
func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.IsActive == nil {
		a.IsActive = utils.ToPtr(true)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}

// AgentFilter represents filter criteria for agents
type AgentFilter struct {
	ID             *uint      `json:"id,omitempty"`
	UUID           *uuid.UUID `json:"uuid,omitempty"`
	OrganizationID *uint      `json:"organization_id,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
}
