package dto

import (
	"time"
)

// CampaignContactSeed identifies one contact to enroll in a campaign
type CampaignContactSeed struct {
	ContactUUID string `json:"contact_uuid" validate:"required,uuid4"`
}

// CreateCampaignRequest represents the request to create a new campaign
type CreateCampaignRequest struct {
	OrganizationID     uint                  `json:"-"`
	Name               string                `json:"name" validate:"required,min=1,max=255"`
	Description        *string               `json:"description,omitempty" validate:"omitempty,max=2000"`
	AgentUUID          *string               `json:"agent_uuid,omitempty" validate:"omitempty,uuid4"`
	Contacts           []CampaignContactSeed `json:"contacts,omitempty" validate:"omitempty,dive"`
	MaxConcurrentCalls *int                  `json:"max_concurrent_calls,omitempty" validate:"omitempty,min=1,max=100"`
	DailyCap           *int                  `json:"daily_cap,omitempty" validate:"omitempty,min=1"`
	CallWindowStart    *string               `json:"call_window_start,omitempty" validate:"omitempty,len=5"`
	CallWindowEnd      *string               `json:"call_window_end,omitempty" validate:"omitempty,len=5"`
	Timezone           *string               `json:"timezone,omitempty" validate:"omitempty,max=64"`
	MaxAttempts        *int                  `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	ScheduledAt        *time.Time            `json:"scheduled_at,omitempty"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message       string `json:"message"`
	UUID          string `json:"uuid"`
	Status        string `json:"status"`
	TotalContacts int    `json:"total_contacts"`
	CreatedAt     string `json:"created_at"`
}

// UpdateCampaignRequest represents the request to update a draft campaign
type UpdateCampaignRequest struct {
	UUID               string     `json:"-"`
	OrganizationID     uint       `json:"-"`
	Name               *string    `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description        *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	AgentUUID          *string    `json:"agent_uuid,omitempty" validate:"omitempty,uuid4"`
	MaxConcurrentCalls *int       `json:"max_concurrent_calls,omitempty" validate:"omitempty,min=1,max=100"`
	DailyCap           *int       `json:"daily_cap,omitempty" validate:"omitempty,min=1"`
	CallWindowStart    *string    `json:"call_window_start,omitempty" validate:"omitempty,len=5"`
	CallWindowEnd      *string    `json:"call_window_end,omitempty" validate:"omitempty,len=5"`
	Timezone           *string    `json:"timezone,omitempty" validate:"omitempty,max=64"`
	MaxAttempts        *int       `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
}

// UpdateCampaignResponse represents the response to update a campaign
type UpdateCampaignResponse struct {
	Message string `json:"message"`
}

// CampaignLifecycleRequest represents a start/pause/resume/cancel request
type CampaignLifecycleRequest struct {
	UUID           string `json:"-"`
	OrganizationID uint   `json:"-"`
}

// CampaignLifecycleResponse represents the response to a lifecycle action
type CampaignLifecycleResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// GetCampaignRequest represents the request to get an existing campaign
type GetCampaignRequest struct {
	UUID           string `json:"-"`
	OrganizationID uint   `json:"-"`
}

// CampaignProgress summarizes claim-queue state for one campaign
type CampaignProgress struct {
	TotalContacts  int   `json:"total_contacts"`
	CallsCompleted int   `json:"calls_completed"`
	Pending        int64 `json:"pending"`
	Calling        int64 `json:"calling"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	Skipped        int64 `json:"skipped"`
}

// GetCampaignResponse is the full campaign view returned by read endpoints
type GetCampaignResponse struct {
	UUID               string            `json:"uuid"`
	Name               string            `json:"name"`
	Description        *string           `json:"description,omitempty"`
	Status             string            `json:"status"`
	AgentUUID          *string           `json:"agent_uuid,omitempty"`
	MaxConcurrentCalls int               `json:"max_concurrent_calls"`
	DailyCap           *int              `json:"daily_cap,omitempty"`
	CallWindowStart    *string           `json:"call_window_start,omitempty"`
	CallWindowEnd      *string           `json:"call_window_end,omitempty"`
	Timezone           string            `json:"timezone"`
	MaxAttempts        int               `json:"max_attempts"`
	Progress           *CampaignProgress `json:"progress,omitempty"`
	ScheduledAt        *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          *time.Time        `json:"updated_at,omitempty"`
}

// ListCampaignsRequest represents the request to list campaigns
type ListCampaignsRequest struct {
	OrganizationID uint    `json:"-"`
	Status         *string `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled in_progress paused completed cancelled"`
	Page           int     `json:"page" validate:"omitempty,min=1"`
	PageSize       int     `json:"page_size" validate:"omitempty,min=1,max=100"`
}

// ListCampaignsResponse represents the response to list campaigns
type ListCampaignsResponse struct {
	Items      []GetCampaignResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}
