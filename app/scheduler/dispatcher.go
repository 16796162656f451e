package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
)

// Dispatcher periodically scans active campaigns, claims eligible contacts
// within each campaign's gates and feeds them to the worker pool. A failure
// in one campaign never blocks the others.
type Dispatcher struct {
	campaignRepo repository.CampaignRepository
	ccRepo       repository.CampaignContactRepository
	callRepo     repository.CallRepository
	agentRepo    repository.AgentRepository
	pool         *WorkerPool
	logger       *log.Logger
	interval     time.Duration

	// now is injectable so call-window and daily-cap gates are testable
	now func() time.Time
}

func NewDispatcher(
	campaignRepo repository.CampaignRepository,
	ccRepo repository.CampaignContactRepository,
	callRepo repository.CallRepository,
	agentRepo repository.AgentRepository,
	pool *WorkerPool,
	logger *log.Logger,
	interval time.Duration,
) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		campaignRepo: campaignRepo,
		ccRepo:       ccRepo,
		callRepo:     callRepo,
		agentRepo:    agentRepo,
		pool:         pool,
		logger:       logger,
		interval:     interval,
		now:          utils.UTCNow,
	}
}

// Start launches the dispatch loop in a background goroutine and returns a stop function
func (d *Dispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	now := d.now()

	d.promoteDueCampaigns(ctx, now)

	campaigns, err := d.campaignRepo.ListInProgress(ctx)
	if err != nil {
		d.logger.Printf("dispatcher: list in-progress campaigns failed: %v", err)
		return
	}

	free := d.pool.FreeSlots()
	for _, campaign := range campaigns {
		if free <= 0 {
			return
		}
		submitted, err := d.dispatchCampaign(ctx, campaign, now, free)
		if err != nil {
			d.logger.Printf("dispatcher: campaign id=%d dispatch failed: %v", campaign.ID, err)
			continue
		}
		free -= submitted
	}
}

// promoteDueCampaigns moves scheduled campaigns whose start time has passed
// into in_progress. Campaigns that would be rejected by a manual start stay
// scheduled and are logged instead of being promoted into a state they can
// never make progress in.
func (d *Dispatcher) promoteDueCampaigns(ctx context.Context, now time.Time) {
	due, err := d.campaignRepo.ListDueScheduled(ctx, now)
	if err != nil {
		d.logger.Printf("dispatcher: list due scheduled campaigns failed: %v", err)
		return
	}
	for _, campaign := range due {
		if err := d.validateStartable(ctx, campaign); err != nil {
			d.logger.Printf("dispatcher: campaign id=%d not auto-started: %v", campaign.ID, err)
			continue
		}
		ok, err := d.campaignRepo.TransitionStatus(ctx, campaign.ID,
			[]models.CampaignStatus{models.CampaignStatusScheduled},
			models.CampaignStatusInProgress, now)
		if err != nil {
			d.logger.Printf("dispatcher: failed to start scheduled campaign id=%d: %v", campaign.ID, err)
			continue
		}
		if ok {
			d.logger.Printf("dispatcher: campaign id=%d started (scheduled_at reached)", campaign.ID)
		}
	}
}

// validateStartable mirrors the start-time checks of the campaign API: an
// active agent and at least one enrolled contact.
func (d *Dispatcher) validateStartable(ctx context.Context, campaign *models.Campaign) error {
	if campaign.AgentID == nil {
		return errors.New("no agent assigned")
	}
	agent, err := d.agentRepo.ByID(ctx, *campaign.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return fmt.Errorf("agent %d not found", *campaign.AgentID)
	}
	if utils.IsFalse(agent.IsActive) {
		return fmt.Errorf("agent %d is inactive", agent.ID)
	}
	if campaign.TotalContacts <= 0 {
		return errors.New("no contacts enrolled")
	}
	return nil
}

// dispatchCampaign claims and submits up to the campaign's allowance for
// this tick, returning how many contacts were handed to the pool.
func (d *Dispatcher) dispatchCampaign(ctx context.Context, campaign *models.Campaign, now time.Time, free int) (int, error) {
	open, err := campaign.WithinCallWindow(now)
	if err != nil {
		return 0, err
	}
	if !open {
		return 0, nil
	}

	inFlight, err := d.ccRepo.CountInFlight(ctx, campaign.ID)
	if err != nil {
		return 0, err
	}
	capacity := campaign.MaxConcurrentCalls - int(inFlight)
	if capacity <= 0 {
		return 0, nil
	}

	limit := capacity
	if free < limit {
		limit = free
	}

	if campaign.DailyCap != nil {
		remaining, err := d.dailyRemaining(ctx, campaign, now)
		if err != nil {
			return 0, err
		}
		if remaining <= 0 {
			return 0, nil
		}
		if remaining < limit {
			limit = remaining
		}
	}

	entries, err := d.ccRepo.ClaimBatch(ctx, campaign.ID, campaign.MaxAttempts, limit, now)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	contactsClaimedTotal.Add(float64(len(entries)))

	submitted := 0
	for _, entry := range entries {
		if err := d.pool.Submit(&DialTask{Campaign: campaign, Entry: entry}); err != nil {
			// Pool filled up mid-tick; undo the claim without spending an attempt
			if rerr := d.ccRepo.Release(ctx, entry.ID); rerr != nil {
				d.logger.Printf("dispatcher: failed to release claim entry id=%d: %v", entry.ID, rerr)
			}
			continue
		}
		submitted++
	}
	return submitted, nil
}

// dailyRemaining computes how many more calls the campaign may start today
// in its own timezone
func (d *Dispatcher) dailyRemaining(ctx context.Context, campaign *models.Campaign, now time.Time) (int, error) {
	from, to, err := campaign.LocalDayBounds(now)
	if err != nil {
		return 0, err
	}
	started, err := d.callRepo.CountStartedBetween(ctx, campaign.ID, from, to)
	if err != nil {
		return 0, err
	}
	return *campaign.DailyCap - int(started), nil
}
