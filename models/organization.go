package models

import (
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is the tenant boundary. Every campaign, contact, agent and
// call row belongs to exactly one organization.
type Organization struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_organizations_uuid" json:"uuid"`
	Name      string     `gorm:"size:255;not null" json:"name"`
	IsActive  *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Organization) TableName() string {
	return "organizations"
}

// BeforeCreate is called before creating a new record
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	if o.IsActive == nil {
		o.IsActive = utils.ToPtr(true)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = utils.UTCNow()
	}
	return nil
}

// OrganizationFilter represents filter criteria for organizations
type OrganizationFilter struct {
	ID       *uint      `json:"id,omitempty"`
	UUID     *uuid.UUID `json:"uuid,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}
