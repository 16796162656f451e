package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
)

// RecoverySweeper requeues in-flight claims whose lease expired. A claim
// goes stale when the process holding it crashed between claiming and
// settling, or when the provider never delivered a terminal callback.
type RecoverySweeper struct {
	ccRepo       repository.CampaignContactRepository
	campaignRepo repository.CampaignRepository
	callRepo     repository.CallRepository
	reconciler   *Reconciler
	logger       *log.Logger
	interval     time.Duration
	leaseTimeout time.Duration

	now func() time.Time
}

func NewRecoverySweeper(
	ccRepo repository.CampaignContactRepository,
	campaignRepo repository.CampaignRepository,
	callRepo repository.CallRepository,
	reconciler *Reconciler,
	logger *log.Logger,
	interval, leaseTimeout time.Duration,
) *RecoverySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if leaseTimeout <= 0 {
		leaseTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RecoverySweeper{
		ccRepo:       ccRepo,
		campaignRepo: campaignRepo,
		callRepo:     callRepo,
		reconciler:   reconciler,
		logger:       logger,
		interval:     interval,
		leaseTimeout: leaseTimeout,
		now:          utils.UTCNow,
	}
}

// Start launches the sweep loop in a background goroutine and returns a stop function
func (s *RecoverySweeper) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *RecoverySweeper) runOnce(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.leaseTimeout)

	rows, err := s.ccRepo.RequeueStale(ctx, cutoff, now)
	if err != nil {
		s.logger.Printf("recovery: stale claim sweep failed: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	staleLeasesReclaimedTotal.Add(float64(len(rows)))
	s.logger.Printf("recovery: reclaimed %d stale claims (claimed before %s)", len(rows), cutoff.Format(time.RFC3339))

	for _, entry := range rows {
		// The dangling call record, if one was created, will never get a
		// terminal callback; close it out.
		if entry.CallID != nil {
			reason := "call abandoned: claim lease expired"
			if _, err := s.callRepo.Finalize(ctx, *entry.CallID, &repository.CallFinalization{
				Status:              models.CallStatusFailed,
				EndedAt:             now,
				DisconnectionReason: &reason,
			}); err != nil {
				s.logger.Printf("recovery: failed to finalize abandoned call %d: %v", *entry.CallID, err)
			}
		}

		// Entries that hit the attempt ceiling went terminal in the sweep
		// and still owe the campaign a completion tick
		if entry.CallStatus == models.DialStatusFailed {
			contactsResolvedTotal.WithLabelValues(models.DialStatusFailed.String()).Inc()
			if err := s.reconciler.accountTerminal(ctx, entry.CampaignID); err != nil {
				s.logger.Printf("recovery: failed to account completion for campaign id=%d: %v", entry.CampaignID, err)
			}
		}
	}
}
