package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/callgrid/orthrus/app/services"
	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
)

// ErrQueueFull is returned by Submit when every worker is busy and the
// backlog channel is at capacity. The dispatcher releases the claim and
// retries on a later tick.
var ErrQueueFull = errors.New("dial queue is full")

// DialTask is one claimed contact handed to a worker
type DialTask struct {
	Campaign *models.Campaign
	Entry    *models.CampaignContact
}

// WorkerPool runs a fixed set of dial workers over a bounded task channel.
// Workers only place calls; they never hold the claim while waiting for the
// call to finish. The provider's terminal callback, routed through the
// reconciler, settles the claim.
type WorkerPool struct {
	tasks       chan *DialTask
	workers     int
	voice       services.VoiceService
	contactRepo repository.ContactRepository
	agentRepo   repository.AgentRepository
	callRepo    repository.CallRepository
	ccRepo      repository.CampaignContactRepository
	reconciler  *Reconciler
	logger      *log.Logger
	wg          sync.WaitGroup
}

func NewWorkerPool(
	workers, queueSize int,
	voice services.VoiceService,
	contactRepo repository.ContactRepository,
	agentRepo repository.AgentRepository,
	callRepo repository.CallRepository,
	ccRepo repository.CampaignContactRepository,
	reconciler *Reconciler,
	logger *log.Logger,
) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WorkerPool{
		tasks:       make(chan *DialTask, queueSize),
		workers:     workers,
		voice:       voice,
		contactRepo: contactRepo,
		agentRepo:   agentRepo,
		callRepo:    callRepo,
		ccRepo:      ccRepo,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// Start launches the workers and returns a stop function that waits for
// in-progress dials to finish. Queued tasks are drained and released.
func (p *WorkerPool) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.tasks:
					workerQueueDepth.Dec()
					p.dial(ctx, task)
				}
			}
		}(i)
	}

	return func() {
		cancel()
		p.wg.Wait()
		p.drain()
	}
}

// drain releases claims still sitting in the backlog so they are not left
// leased until the recovery sweep finds them
func (p *WorkerPool) drain() {
	for {
		select {
		case task := <-p.tasks:
			workerQueueDepth.Dec()
			if err := p.ccRepo.Release(context.Background(), task.Entry.ID); err != nil {
				p.logger.Printf("worker: failed to release claim entry id=%d on shutdown: %v", task.Entry.ID, err)
			}
		default:
			return
		}
	}
}

// FreeSlots reports the remaining backlog capacity
func (p *WorkerPool) FreeSlots() int {
	return cap(p.tasks) - len(p.tasks)
}

// Submit hands a claimed contact to the pool without blocking
func (p *WorkerPool) Submit(task *DialTask) error {
	select {
	case p.tasks <- task:
		workerQueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// dial places one outbound call for a claimed contact
func (p *WorkerPool) dial(ctx context.Context, task *DialTask) {
	workersBusy.Inc()
	defer workersBusy.Dec()

	campaign, entry := task.Campaign, task.Entry

	contact, err := p.contactRepo.ByID(ctx, entry.ContactID)
	if err != nil {
		p.logger.Printf("worker: failed to load contact %d: %v", entry.ContactID, err)
		p.release(entry)
		return
	}
	if contact == nil || contact.PhoneNumber == "" {
		if err := p.reconciler.ResolveSkipped(ctx, entry, "contact missing or has no phone number"); err != nil {
			p.logger.Printf("worker: failed to skip claim entry id=%d: %v", entry.ID, err)
		}
		return
	}

	agent, err := p.loadAgent(ctx, campaign)
	if err != nil {
		p.logger.Printf("worker: campaign id=%d has no usable agent: %v", campaign.ID, err)
		p.release(entry)
		return
	}

	call := &models.Call{
		OrganizationID: campaign.OrganizationID,
		CampaignID:     &campaign.ID,
		ContactID:      &contact.ID,
		AgentID:        &agent.ID,
		Direction:      models.CallDirectionOutbound,
		Status:         models.CallStatusQueued,
		FromNumber:     agent.PhoneNumber,
		ToNumber:       contact.PhoneNumber,
	}
	if err := p.callRepo.Save(ctx, call); err != nil {
		p.logger.Printf("worker: failed to create call record for claim entry id=%d: %v", entry.ID, err)
		p.release(entry)
		return
	}
	if err := p.ccRepo.SetCallID(ctx, entry.ID, call.ID); err != nil {
		p.logger.Printf("worker: failed to link call %d to claim entry id=%d: %v", call.ID, entry.ID, err)
		p.release(entry)
		return
	}
	if err := p.contactRepo.IncrementCallAttempts(ctx, contact.ID); err != nil {
		p.logger.Printf("worker: failed to bump call_attempts for contact %d: %v", contact.ID, err)
	}

	req := &services.PlaceCallRequest{
		CallID:     call.ID,
		FromNumber: agent.PhoneNumber,
		ToNumber:   contact.PhoneNumber,
		AgentName:  agent.Name,
		Metadata: map[string]string{
			"call_uuid":   call.UUID.String(),
			"campaign_id": fmt.Sprintf("%d", campaign.ID),
		},
	}
	if agent.Voice != nil {
		req.Voice = *agent.Voice
	}
	if agent.Prompt != nil {
		req.Prompt = *agent.Prompt
	}

	result, err := p.voice.PlaceCall(ctx, req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidNumber) || errors.Is(err, services.ErrProviderRejectedAgent) {
			callsPlacedTotal.WithLabelValues("rejected").Inc()
		} else {
			callsPlacedTotal.WithLabelValues("provider_error").Inc()
		}
		if rerr := p.reconciler.ResolvePlacementFailure(ctx, entry, campaign, call, err); rerr != nil {
			p.logger.Printf("worker: failed to settle placement failure for claim entry id=%d: %v", entry.ID, rerr)
		}
		return
	}

	callsPlacedTotal.WithLabelValues("accepted").Inc()
	status := result.Status
	if status.IsTerminal() || status == "" {
		status = models.CallStatusRinging
	}
	if err := p.callRepo.SetProviderCallID(ctx, call.ID, result.ProviderCallID, status); err != nil {
		p.logger.Printf("worker: failed to record provider call id for call %d: %v", call.ID, err)
	}
}

// loadAgent resolves the campaign's active agent
func (p *WorkerPool) loadAgent(ctx context.Context, campaign *models.Campaign) (*models.Agent, error) {
	if campaign.AgentID == nil {
		return nil, errors.New("campaign has no agent assigned")
	}
	agent, err := p.agentRepo.ByID(ctx, *campaign.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %d not found", *campaign.AgentID)
	}
	if utils.IsFalse(agent.IsActive) {
		return nil, fmt.Errorf("agent %d is inactive", agent.ID)
	}
	return agent, nil
}

// release returns a claim without spending an attempt
func (p *WorkerPool) release(entry *models.CampaignContact) {
	if err := p.ccRepo.Release(context.Background(), entry.ID); err != nil {
		p.logger.Printf("worker: failed to release claim entry id=%d: %v", entry.ID, err)
	}
}
