// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/callgrid/orthrus/app/dto"
	"github.com/callgrid/orthrus/config"
	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CampaignFlow handles the campaign business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	UpdateCampaign(ctx context.Context, req *dto.UpdateCampaignRequest, metadata *ClientMetadata) (*dto.UpdateCampaignResponse, error)
	StartCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error)
	PauseCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error)
	ResumeCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error)
	GetCampaign(ctx context.Context, req *dto.GetCampaignRequest, metadata *ClientMetadata) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest, metadata *ClientMetadata) (*dto.ListCampaignsResponse, error)
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	contactRepo  repository.ContactRepository
	agentRepo    repository.AgentRepository
	ccRepo       repository.CampaignContactRepository
	cacheConfig  *config.CacheConfig
	rc           *redis.Client
	db           *gorm.DB
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	agentRepo repository.AgentRepository,
	ccRepo repository.CampaignContactRepository,
	db *gorm.DB,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		agentRepo:    agentRepo,
		ccRepo:       ccRepo,
		cacheConfig:  cacheConfig,
		rc:           rc,
		db:           db,
	}
}

// CreateCampaign creates a campaign and seeds its claim queue from the
// selected contacts. With scheduled_at set the campaign is born scheduled,
// otherwise draft.
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if err := s.validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	var agent *models.Agent
	if req.AgentUUID != nil {
		var err error
		agent, err = s.getOrgAgent(ctx, *req.AgentUUID, req.OrganizationID)
		if err != nil {
			return nil, NewBusinessError("AGENT_LOOKUP_FAILED", "Failed to lookup agent", err)
		}
	}

	contacts, err := s.resolveContacts(ctx, req.Contacts, req.OrganizationID)
	if err != nil {
		return nil, NewBusinessError("CONTACT_LOOKUP_FAILED", "Failed to resolve campaign contacts", err)
	}

	var campaign *models.Campaign
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		campaign = s.buildCampaign(req, agent, len(contacts))
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}

		entries := make([]*models.CampaignContact, 0, len(contacts))
		for _, c := range contacts {
			entries = append(entries, &models.CampaignContact{
				CampaignID: campaign.ID,
				ContactID:  c.ID,
				CallStatus: models.DialStatusPending,
			})
		}
		return s.ccRepo.SaveBatch(txCtx, entries)
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		Message:       "Campaign created successfully",
		UUID:          campaign.UUID.String(),
		Status:        campaign.Status.String(),
		TotalContacts: campaign.TotalContacts,
		CreatedAt:     campaign.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *CampaignFlowImpl) buildCampaign(req *dto.CreateCampaignRequest, agent *models.Agent, totalContacts int) *models.Campaign {
	campaign := &models.Campaign{
		OrganizationID:  req.OrganizationID,
		Name:            req.Name,
		Description:     req.Description,
		Status:          models.CampaignStatusDraft,
		TotalContacts:   totalContacts,
		CallWindowStart: req.CallWindowStart,
		CallWindowEnd:   req.CallWindowEnd,
		ScheduledAt:     req.ScheduledAt,
	}
	if agent != nil {
		campaign.AgentID = &agent.ID
	}
	if req.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if req.DailyCap != nil {
		campaign.DailyCap = req.DailyCap
	}
	if req.Timezone != nil {
		campaign.Timezone = *req.Timezone
	}
	if req.MaxAttempts != nil {
		campaign.MaxAttempts = *req.MaxAttempts
	}
	if req.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}
	return campaign
}

// UpdateCampaign edits a draft campaign's settings
func (s *CampaignFlowImpl) UpdateCampaign(ctx context.Context, req *dto.UpdateCampaignRequest, metadata *ClientMetadata) (*dto.UpdateCampaignResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return nil, NewBusinessError("CAMPAIGN_NOT_EDITABLE", "Campaign is not editable", ErrCampaignNotEditable)
	}

	if err := validateCallWindow(pick(req.CallWindowStart, campaign.CallWindowStart), pick(req.CallWindowEnd, campaign.CallWindowEnd)); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}
	if req.Timezone != nil {
		if err := validateTimezone(*req.Timezone); err != nil {
			return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
		}
		campaign.Timezone = *req.Timezone
	}
	if req.AgentUUID != nil {
		agent, err := s.getOrgAgent(ctx, *req.AgentUUID, req.OrganizationID)
		if err != nil {
			return nil, NewBusinessError("AGENT_LOOKUP_FAILED", "Failed to lookup agent", err)
		}
		campaign.AgentID = &agent.ID
	}

	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.Description != nil {
		campaign.Description = req.Description
	}
	if req.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if req.DailyCap != nil {
		campaign.DailyCap = req.DailyCap
	}
	if req.CallWindowStart != nil {
		campaign.CallWindowStart = req.CallWindowStart
	}
	if req.CallWindowEnd != nil {
		campaign.CallWindowEnd = req.CallWindowEnd
	}
	if req.MaxAttempts != nil {
		campaign.MaxAttempts = *req.MaxAttempts
	}
	if req.ScheduledAt != nil {
		if req.ScheduledAt.Before(utils.UTCNow()) {
			return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrScheduleTimeInPast)
		}
		campaign.ScheduledAt = req.ScheduledAt
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := s.db.WithContext(ctx).Save(campaign).Error; err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}
	s.invalidateProgressCache(ctx, campaign.UUID.String())

	return &dto.UpdateCampaignResponse{Message: "Campaign updated successfully"}, nil
}

// StartCampaign moves a draft or scheduled campaign into in_progress after
// validating it is dialable.
func (s *CampaignFlowImpl) StartCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStartable(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_REJECTED", "Campaign cannot be started", err)
	}
	return s.transition(ctx, campaign,
		[]models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled},
		models.CampaignStatusInProgress, "Campaign started")
}

// PauseCampaign suspends dialing; in-flight calls run to completion
func (s *CampaignFlowImpl) PauseCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, campaign,
		[]models.CampaignStatus{models.CampaignStatusInProgress},
		models.CampaignStatusPaused, "Campaign paused")
}

// ResumeCampaign returns a paused campaign to in_progress
func (s *CampaignFlowImpl) ResumeCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStartable(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_REJECTED", "Campaign cannot be resumed", err)
	}
	return s.transition(ctx, campaign,
		[]models.CampaignStatus{models.CampaignStatusPaused},
		models.CampaignStatusInProgress, "Campaign resumed")
}

// CancelCampaign terminates a campaign from any non-terminal state.
// In-flight calls are left to settle through the reconciler.
func (s *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *ClientMetadata) (*dto.CampaignLifecycleResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, campaign,
		[]models.CampaignStatus{
			models.CampaignStatusDraft, models.CampaignStatusScheduled,
			models.CampaignStatusInProgress, models.CampaignStatusPaused,
		},
		models.CampaignStatusCancelled, "Campaign cancelled")
}

func (s *CampaignFlowImpl) transition(ctx context.Context, campaign *models.Campaign, from []models.CampaignStatus, to models.CampaignStatus, message string) (*dto.CampaignLifecycleResponse, error) {
	ok, err := s.campaignRepo.TransitionStatus(ctx, campaign.ID, from, to, utils.UTCNow())
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_TRANSITION_FAILED", "Campaign transition failed", err)
	}
	if !ok {
		return nil, NewBusinessError("CAMPAIGN_TRANSITION_REJECTED",
			fmt.Sprintf("Campaign cannot move from %s to %s", campaign.Status, to),
			ErrInvalidStatusTransition)
	}
	s.invalidateProgressCache(ctx, campaign.UUID.String())

	return &dto.CampaignLifecycleResponse{
		Message: message,
		UUID:    campaign.UUID.String(),
		Status:  to.String(),
	}, nil
}

// GetCampaign returns a campaign with its claim-queue progress
func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.GetCampaignRequest, metadata *ClientMetadata) (*dto.GetCampaignResponse, error) {
	campaign, err := s.getOrgCampaign(ctx, req.UUID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	resp := s.toCampaignResponse(ctx, campaign)
	progress, err := s.campaignProgress(ctx, campaign)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_PROGRESS_FAILED", "Failed to load campaign progress", err)
	}
	resp.Progress = progress
	return resp, nil
}

// ListCampaigns returns the organization's campaigns, newest first
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest, metadata *ClientMetadata) (*dto.ListCampaignsResponse, error) {
	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrInvalidPageSize)
	}

	filter := models.CampaignFilter{OrganizationID: &req.OrganizationID}
	if req.Status != nil {
		status := models.CampaignStatus(*req.Status)
		filter.Status = &status
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}
	campaigns, err := s.campaignRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.GetCampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, *s.toCampaignResponse(ctx, c))
	}

	return &dto.ListCampaignsResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (s *CampaignFlowImpl) toCampaignResponse(ctx context.Context, campaign *models.Campaign) *dto.GetCampaignResponse {
	resp := &dto.GetCampaignResponse{
		UUID:               campaign.UUID.String(),
		Name:               campaign.Name,
		Description:        campaign.Description,
		Status:             campaign.Status.String(),
		MaxConcurrentCalls: campaign.MaxConcurrentCalls,
		DailyCap:           campaign.DailyCap,
		CallWindowStart:    campaign.CallWindowStart,
		CallWindowEnd:      campaign.CallWindowEnd,
		Timezone:           campaign.Timezone,
		MaxAttempts:        campaign.MaxAttempts,
		ScheduledAt:        campaign.ScheduledAt,
		StartedAt:          campaign.StartedAt,
		CompletedAt:        campaign.CompletedAt,
		CreatedAt:          campaign.CreatedAt,
		UpdatedAt:          campaign.UpdatedAt,
	}
	if campaign.AgentID != nil {
		if agent, err := s.agentRepo.ByID(ctx, *campaign.AgentID); err == nil && agent != nil {
			agentUUID := agent.UUID.String()
			resp.AgentUUID = &agentUUID
		}
	}
	return resp
}

// campaignProgress reads the cached progress summary or recomputes it from
// the claim queue. Stale entries are bounded by the cache TTL; lifecycle
// transitions invalidate eagerly.
func (s *CampaignFlowImpl) campaignProgress(ctx context.Context, campaign *models.Campaign) (*dto.CampaignProgress, error) {
	key := s.progressCacheKey(campaign.UUID.String())
	if s.rc != nil {
		if raw, err := s.rc.Get(ctx, key).Result(); err == nil {
			var cached dto.CampaignProgress
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	counts, err := s.ccRepo.StatusCounts(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	progress := &dto.CampaignProgress{
		TotalContacts:  campaign.TotalContacts,
		CallsCompleted: campaign.CallsCompleted,
		Pending:        counts.Pending,
		Calling:        counts.Calling,
		Completed:      counts.Completed,
		Failed:         counts.Failed,
		Skipped:        counts.Skipped,
	}

	if s.rc != nil {
		ttl := 30 * time.Second
		if s.cacheConfig != nil && s.cacheConfig.ProgressTTL > 0 {
			ttl = s.cacheConfig.ProgressTTL
		}
		if raw, err := json.Marshal(progress); err == nil {
			_ = s.rc.Set(ctx, key, raw, ttl).Err()
		}
	}
	return progress, nil
}

func (s *CampaignFlowImpl) progressCacheKey(campaignUUID string) string {
	return fmt.Sprintf("orthrus:campaign:%s:progress", campaignUUID)
}

func (s *CampaignFlowImpl) invalidateProgressCache(ctx context.Context, campaignUUID string) {
	if s.rc == nil {
		return
	}
	_ = s.rc.Del(ctx, s.progressCacheKey(campaignUUID)).Err()
}

// getOrgCampaign fetches a campaign and enforces tenant ownership
func (s *CampaignFlowImpl) getOrgCampaign(ctx context.Context, campaignUUID string, organizationID uint) (*models.Campaign, error) {
	if campaignUUID == "" {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrCampaignUUIDRequired)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.OrganizationID != organizationID {
		return nil, NewBusinessError("CAMPAIGN_ACCESS_DENIED", "Campaign access denied", ErrCampaignAccessDenied)
	}
	return campaign, nil
}

func (s *CampaignFlowImpl) getOrgAgent(ctx context.Context, agentUUID string, organizationID uint) (*models.Agent, error) {
	agent, err := s.agentRepo.ByUUID(ctx, agentUUID)
	if err != nil {
		return nil, err
	}
	if agent == nil || agent.OrganizationID != organizationID {
		return nil, ErrAgentNotFound
	}
	if utils.IsFalse(agent.IsActive) {
		return nil, ErrAgentInactive
	}
	return agent, nil
}

// resolveContacts maps contact UUIDs to org-owned contact rows, dropping
// duplicates while preserving request order
func (s *CampaignFlowImpl) resolveContacts(ctx context.Context, seeds []dto.CampaignContactSeed, organizationID uint) ([]*models.Contact, error) {
	contacts := make([]*models.Contact, 0, len(seeds))
	seen := make(map[uint]bool, len(seeds))
	for _, seed := range seeds {
		contact, err := s.contactRepo.ByUUID(ctx, seed.ContactUUID)
		if err != nil {
			return nil, err
		}
		if contact == nil || contact.OrganizationID != organizationID {
			return nil, fmt.Errorf("%w: %s", ErrContactNotFound, seed.ContactUUID)
		}
		if seen[contact.ID] {
			continue
		}
		seen[contact.ID] = true
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// validateStartable enforces the start-time invariants: an active agent and
// at least one enrolled contact
func (s *CampaignFlowImpl) validateStartable(ctx context.Context, campaign *models.Campaign) error {
	if campaign.AgentID == nil {
		return ErrCampaignAgentRequired
	}
	agent, err := s.agentRepo.ByID(ctx, *campaign.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return ErrAgentNotFound
	}
	if utils.IsFalse(agent.IsActive) {
		return ErrAgentInactive
	}
	if campaign.TotalContacts <= 0 {
		return ErrCampaignContactsRequired
	}
	return nil
}

func (s *CampaignFlowImpl) validateCreateCampaignRequest(req *dto.CreateCampaignRequest) error {
	if req.Name == "" {
		return ErrCampaignNameRequired
	}
	if err := validateCallWindow(req.CallWindowStart, req.CallWindowEnd); err != nil {
		return err
	}
	if req.Timezone != nil {
		if err := validateTimezone(*req.Timezone); err != nil {
			return err
		}
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(utils.UTCNow()) {
		return ErrScheduleTimeInPast
	}
	return nil
}

// validateCallWindow requires both bounds or neither, each a valid "HH:MM"
func validateCallWindow(start, end *string) error {
	if start == nil && end == nil {
		return nil
	}
	if start == nil || end == nil {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidCallWindow)
	}
	probe := models.Campaign{
		CallWindowStart: start,
		CallWindowEnd:   end,
		Timezone:        models.DefaultTimezone,
	}
	if _, err := probe.WithinCallWindow(utils.UTCNow()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallWindow, err)
	}
	return nil
}

func validateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return nil
}

// pick returns the override when present, otherwise the current value
func pick(override, current *string) *string {
	if override != nil {
		return override
	}
	return current
}
