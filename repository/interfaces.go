// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/callgrid/orthrus/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// OrganizationRepository defines operations for organizations
type OrganizationRepository interface {
	Repository[models.Organization, models.OrganizationFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Organization, error)
}

// AgentRepository defines operations for voice agents
type AgentRepository interface {
	Repository[models.Agent, models.AgentFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Agent, error)
}

// ContactRepository defines operations for contacts. Counter mutations are
// store-side atomic increments so concurrent call resolutions never lose
// updates.
type ContactRepository interface {
	Repository[models.Contact, models.ContactFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Contact, error)
	IncrementCallAttempts(ctx context.Context, contactID uint) error
	IncrementCallsConnected(ctx context.Context, contactID uint) error
	ApplyDisposition(ctx context.Context, contactID uint, status models.ContactStatus, outcome *models.ContactOutcome) error
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	ListInProgress(ctx context.Context) ([]*models.Campaign, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	// TransitionStatus atomically moves a campaign from one of the expected
	// statuses to the target status, stamping started_at/completed_at as
	// appropriate. Returns false when the campaign was not in an expected
	// status (lost race or illegal transition).
	TransitionStatus(ctx context.Context, campaignID uint, from []models.CampaignStatus, to models.CampaignStatus, now time.Time) (bool, error)
	// IncrementCallsCompleted bumps the progress counter, guarded so it can
	// never exceed total_contacts. Returns false when the guard rejected the
	// increment.
	IncrementCallsCompleted(ctx context.Context, campaignID uint) (bool, error)
	// MaybeComplete transitions the campaign to completed iff it is
	// in_progress, calls_completed has reached total_contacts and no
	// unresolved claim-queue entries remain. Returns whether it completed.
	MaybeComplete(ctx context.Context, campaignID uint, now time.Time) (bool, error)
}

// CampaignContactRepository defines operations for the claim queue
type CampaignContactRepository interface {
	ByID(ctx context.Context, id uint) (*models.CampaignContact, error)
	ByCallID(ctx context.Context, callID uint) (*models.CampaignContact, error)
	SaveBatch(ctx context.Context, entries []*models.CampaignContact) error
	ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.CampaignContact, error)
	// ClaimBatch atomically claims up to limit eligible entries of one
	// campaign using non-blocking row locks: concurrent claimants never
	// receive overlapping sets and never block each other. Entries are
	// claimed oldest-created first, ties broken by contact id.
	ClaimBatch(ctx context.Context, campaignID uint, maxAttempts, limit int, now time.Time) ([]*models.CampaignContact, error)
	// Release undoes a claim without spending an attempt (used when a
	// claimed unit could not be handed to a worker).
	Release(ctx context.Context, id uint) error
	// SetCallID links a claimed entry to its call record at placement time
	// so provider callbacks can be routed back to the entry.
	SetCallID(ctx context.Context, id, callID uint) error
	// Resolve moves a calling entry to a terminal status. The update is
	// guarded on call_status='calling', so resolving twice reports false
	// the second time and duplicate callbacks stay idempotent.
	Resolve(ctx context.Context, id uint, status models.DialStatus, callID *uint, now time.Time) (bool, error)
	// Requeue spends one attempt on a calling entry and either returns it
	// to pending or, at the attempt ceiling, marks it failed. The returned
	// status tells the caller which of the two happened.
	Requeue(ctx context.Context, id uint, maxAttempts int, now time.Time) (models.DialStatus, error)
	// RequeueStale sweeps in-flight entries whose lease began before cutoff
	// back into the queue, spending an attempt each. Entries that hit their
	// campaign's ceiling go terminal failed and are included in the result
	// so the caller can account campaign completion.
	RequeueStale(ctx context.Context, cutoff, now time.Time) ([]*models.CampaignContact, error)
	CountInFlight(ctx context.Context, campaignID uint) (int64, error)
	StatusCounts(ctx context.Context, campaignID uint) (models.DialStatusCounts, error)
}

// CallRepository defines operations for call records
type CallRepository interface {
	Repository[models.Call, models.CallFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Call, error)
	ByProviderCallID(ctx context.Context, providerCallID string) (*models.Call, error)
	SetProviderCallID(ctx context.Context, callID uint, providerCallID string, status models.CallStatus) error
	// UpdateStatus records an interim (non-terminal) status change. Calls
	// already finalized are left untouched.
	UpdateStatus(ctx context.Context, callID uint, status models.CallStatus) error
	// Finalize writes the terminal status and outcome fields once. The
	// update is guarded on the current status being non-terminal; a second
	// finalization reports false and leaves the record untouched.
	Finalize(ctx context.Context, callID uint, result *CallFinalization) (bool, error)
	// CountStartedBetween counts a campaign's calls with started_at in
	// [from, to), used for daily cap accounting.
	CountStartedBetween(ctx context.Context, campaignID uint, from, to time.Time) (int64, error)
}

// CallFinalization carries the terminal fields written exactly once to a call record
type CallFinalization struct {
	Status              models.CallStatus
	EndedAt             time.Time
	DurationSeconds     *int
	Transcript          *string
	Summary             *string
	Sentiment           *string
	DisconnectionReason *string
}
