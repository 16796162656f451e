// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Organization-related errors
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationInactive = errors.New("organization is inactive")

	// Campaign-related errors
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignAccessDenied     = errors.New("campaign access denied")
	ErrCampaignNameRequired     = errors.New("campaign name is required")
	ErrCampaignUUIDRequired     = errors.New("campaign UUID is required")
	ErrCampaignNotEditable      = errors.New("only draft campaigns can be edited")
	ErrCampaignAgentRequired    = errors.New("campaign requires an active agent before starting")
	ErrCampaignContactsRequired = errors.New("campaign requires at least one contact before starting")
	ErrInvalidStatusTransition  = errors.New("invalid campaign status transition")
	ErrInvalidCallWindow        = errors.New("invalid call window")
	ErrInvalidTimezone          = errors.New("invalid timezone")
	ErrScheduleTimeInPast       = errors.New("schedule time is in the past")

	// Agent-related errors
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentInactive = errors.New("agent is inactive")

	// Contact-related errors
	ErrContactNotFound  = errors.New("contact not found")
	ErrNoValidContacts  = errors.New("no valid contacts to enroll")
	ErrDuplicateContact = errors.New("contact already enrolled in campaign")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsCampaignNotEditable(err error) bool {
	return errors.Is(err, ErrCampaignNotEditable)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrCampaignNameRequired) ||
		errors.Is(err, ErrCampaignUUIDRequired) ||
		errors.Is(err, ErrCampaignAgentRequired) ||
		errors.Is(err, ErrCampaignContactsRequired) ||
		errors.Is(err, ErrInvalidCallWindow) ||
		errors.Is(err, ErrInvalidTimezone) ||
		errors.Is(err, ErrScheduleTimeInPast) ||
		errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrInvalidPageSize)
}
