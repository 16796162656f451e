// Package scheduler drives campaign dialing: claiming contacts, placing
// calls through the worker pool and reconciling provider results back into
// campaign progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/callgrid/orthrus/app/services"
	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
)

// ErrUnknownProviderCall is returned when a provider callback references a
// call this system never placed.
var ErrUnknownProviderCall = errors.New("unknown provider call")

// TxRunner executes fn within a storage transaction. Extracted so the
// reconciler can be tested against fakes without a database.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// ProviderCallResult is the normalized payload of a provider callback
type ProviderCallResult struct {
	ProviderCallID      string
	Status              models.CallStatus
	EndedAt             time.Time
	DurationSeconds     *int
	Transcript          *string
	Summary             *string
	Sentiment           *string
	DisconnectionReason *string
	Outcome             *models.ContactOutcome
}

// Reconciler folds terminal call results back into the claim queue, the
// contact ledger and campaign progress counters. All mutations for one
// result run in a single transaction.
type Reconciler struct {
	campaignRepo repository.CampaignRepository
	ccRepo       repository.CampaignContactRepository
	contactRepo  repository.ContactRepository
	callRepo     repository.CallRepository
	logger       *log.Logger

	// RunInTx wraps the per-result mutations; overridable in tests
	RunInTx TxRunner
}

func NewReconciler(
	db *gorm.DB,
	campaignRepo repository.CampaignRepository,
	ccRepo repository.CampaignContactRepository,
	contactRepo repository.ContactRepository,
	callRepo repository.CallRepository,
	logger *log.Logger,
) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		campaignRepo: campaignRepo,
		ccRepo:       ccRepo,
		contactRepo:  contactRepo,
		callRepo:     callRepo,
		logger:       logger,
		RunInTx: func(ctx context.Context, fn func(context.Context) error) error {
			return repository.WithTransaction(ctx, db, fn)
		},
	}
}

// HandleProviderResult processes one provider callback. Interim statuses
// update the call record only; terminal statuses resolve or requeue the
// claim-queue entry and advance campaign progress. Duplicate terminal
// callbacks are absorbed by the guarded finalize/resolve updates.
func (r *Reconciler) HandleProviderResult(ctx context.Context, result *ProviderCallResult) error {
	call, err := r.callRepo.ByProviderCallID(ctx, result.ProviderCallID)
	if err != nil {
		return fmt.Errorf("failed to look up call %s: %w", result.ProviderCallID, err)
	}
	if call == nil {
		return fmt.Errorf("%w: %s", ErrUnknownProviderCall, result.ProviderCallID)
	}

	if !result.Status.IsTerminal() {
		return r.callRepo.UpdateStatus(ctx, call.ID, result.Status)
	}

	entry, err := r.ccRepo.ByCallID(ctx, call.ID)
	if err != nil {
		return fmt.Errorf("failed to look up claim entry for call %d: %w", call.ID, err)
	}

	return r.RunInTx(ctx, func(txCtx context.Context) error {
		finalized, err := r.callRepo.Finalize(txCtx, call.ID, &repository.CallFinalization{
			Status:              result.Status,
			EndedAt:             result.EndedAt,
			DurationSeconds:     result.DurationSeconds,
			Transcript:          result.Transcript,
			Summary:             result.Summary,
			Sentiment:           result.Sentiment,
			DisconnectionReason: result.DisconnectionReason,
		})
		if err != nil {
			return err
		}
		if !finalized {
			r.logger.Printf("reconciler: duplicate terminal callback for call id=%d ignored", call.ID)
			return nil
		}

		if entry == nil {
			// Inbound or manually placed call; nothing to reconcile
			return nil
		}
		return r.settleEntry(txCtx, entry, call, result)
	})
}

// settleEntry applies a terminal call result to the claim-queue entry
func (r *Reconciler) settleEntry(ctx context.Context, entry *models.CampaignContact, call *models.Call, result *ProviderCallResult) error {
	campaign, err := r.campaignRepo.ByID(ctx, entry.CampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return fmt.Errorf("campaign %d not found for claim entry %d", entry.CampaignID, entry.ID)
	}

	if result.Status.Retryable() {
		return r.requeueEntry(ctx, entry, campaign)
	}

	dialStatus := models.DialStatusFailed
	if result.Status == models.CallStatusCompleted {
		dialStatus = models.DialStatusCompleted
	}

	resolved, err := r.ccRepo.Resolve(ctx, entry.ID, dialStatus, &call.ID, utils.UTCNow())
	if err != nil {
		return err
	}
	if !resolved {
		r.logger.Printf("reconciler: claim entry id=%d already resolved, skipping", entry.ID)
		return nil
	}
	contactsResolvedTotal.WithLabelValues(dialStatus.String()).Inc()

	if result.Status == models.CallStatusCompleted {
		if err := r.contactRepo.IncrementCallsConnected(ctx, entry.ContactID); err != nil {
			return err
		}
	}
	if err := r.applyDisposition(ctx, entry.ContactID, result); err != nil {
		return err
	}
	return r.accountTerminal(ctx, campaign.ID)
}

// requeueEntry spends an attempt and either returns the entry to the queue
// or, at the ceiling, closes it out as failed.
func (r *Reconciler) requeueEntry(ctx context.Context, entry *models.CampaignContact, campaign *models.Campaign) error {
	status, err := r.ccRepo.Requeue(ctx, entry.ID, campaign.MaxAttempts, utils.UTCNow())
	if err != nil {
		return err
	}
	switch status {
	case models.DialStatusPending:
		contactsRequeuedTotal.Inc()
		return nil
	case models.DialStatusFailed:
		contactsResolvedTotal.WithLabelValues(status.String()).Inc()
		outcome := models.ContactOutcomeUnreachable
		if err := r.contactRepo.ApplyDisposition(ctx, entry.ContactID, models.ContactStatusDone, &outcome); err != nil {
			return err
		}
		return r.accountTerminal(ctx, campaign.ID)
	default:
		// Entry was resolved elsewhere between the callback and the requeue
		r.logger.Printf("reconciler: claim entry id=%d requeue found status %s, skipping", entry.ID, status)
		return nil
	}
}

// applyDisposition records the contact-level outcome of a settled call
func (r *Reconciler) applyDisposition(ctx context.Context, contactID uint, result *ProviderCallResult) error {
	if result.Status != models.CallStatusCompleted && result.Outcome == nil {
		return nil
	}
	status := models.ContactStatusActive
	if result.Outcome != nil && result.Outcome.Terminal() {
		status = models.ContactStatusDone
	}
	return r.contactRepo.ApplyDisposition(ctx, contactID, status, result.Outcome)
}

// ResolveSkipped closes a claimed entry without a dial (missing contact,
// bad data). The skip counts toward campaign completion.
func (r *Reconciler) ResolveSkipped(ctx context.Context, entry *models.CampaignContact, reason string) error {
	return r.RunInTx(ctx, func(txCtx context.Context) error {
		resolved, err := r.ccRepo.Resolve(txCtx, entry.ID, models.DialStatusSkipped, nil, utils.UTCNow())
		if err != nil {
			return err
		}
		if !resolved {
			return nil
		}
		contactsResolvedTotal.WithLabelValues(models.DialStatusSkipped.String()).Inc()
		r.logger.Printf("reconciler: claim entry id=%d skipped: %s", entry.ID, reason)
		return r.accountTerminal(txCtx, entry.CampaignID)
	})
}

// ResolvePlacementFailure settles an entry whose dial never reached the
// provider. Permanent rejections burn the entry; transient provider
// failures spend an attempt and requeue.
func (r *Reconciler) ResolvePlacementFailure(ctx context.Context, entry *models.CampaignContact, campaign *models.Campaign, call *models.Call, cause error) error {
	return r.RunInTx(ctx, func(txCtx context.Context) error {
		reason := cause.Error()
		if _, err := r.callRepo.Finalize(txCtx, call.ID, &repository.CallFinalization{
			Status:              models.CallStatusFailed,
			EndedAt:             utils.UTCNow(),
			DisconnectionReason: &reason,
		}); err != nil {
			return err
		}

		if errors.Is(cause, services.ErrInvalidNumber) || errors.Is(cause, services.ErrProviderRejectedAgent) {
			resolved, err := r.ccRepo.Resolve(txCtx, entry.ID, models.DialStatusFailed, &call.ID, utils.UTCNow())
			if err != nil {
				return err
			}
			if !resolved {
				return nil
			}
			contactsResolvedTotal.WithLabelValues(models.DialStatusFailed.String()).Inc()
			if errors.Is(cause, services.ErrInvalidNumber) {
				outcome := models.ContactOutcomeWrongNumber
				if err := r.contactRepo.ApplyDisposition(txCtx, entry.ContactID, models.ContactStatusDone, &outcome); err != nil {
					return err
				}
			}
			return r.accountTerminal(txCtx, campaign.ID)
		}

		return r.requeueEntry(txCtx, entry, campaign)
	})
}

// accountTerminal advances campaign progress after one entry went terminal
// and completes the campaign when it was the last one.
func (r *Reconciler) accountTerminal(ctx context.Context, campaignID uint) error {
	bumped, err := r.campaignRepo.IncrementCallsCompleted(ctx, campaignID)
	if err != nil {
		return err
	}
	if !bumped {
		r.logger.Printf("reconciler: calls_completed already at total_contacts for campaign id=%d", campaignID)
	}
	completed, err := r.campaignRepo.MaybeComplete(ctx, campaignID, utils.UTCNow())
	if err != nil {
		return err
	}
	if completed {
		campaignsCompletedTotal.Inc()
		r.logger.Printf("reconciler: campaign id=%d completed", campaignID)
	}
	return nil
}
