package handlers

import (
	"context"
	"log"
	"time"

	"github.com/callgrid/orthrus/app/dto"
	businessflow "github.com/callgrid/orthrus/business_flow"
	"github.com/callgrid/orthrus/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	UpdateCampaign(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	campaignFlow businessflow.CampaignFlow
	validator    *validator.Validate
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow) *CampaignHandler {
	return &CampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
	}
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateCampaign handles the campaign creation process
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	organizationID, ok := c.Locals("organization_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}
	req.OrganizationID = organizationID

	result, err := h.campaignFlow.CreateCampaign(h.createRequestContext(c, "/api/v1/campaigns"), &req, metadata)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign validation failed", "CAMPAIGN_VALIDATION_FAILED", err.Error())
		}
		log.Println("Campaign creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// UpdateCampaign handles editing a draft campaign
func (h *CampaignHandler) UpdateCampaign(c fiber.Ctx) error {
	var req dto.UpdateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	organizationID, ok := c.Locals("organization_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}
	req.OrganizationID = organizationID
	req.UUID = c.Params("uuid")

	result, err := h.campaignFlow.UpdateCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID), &req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign update failed", "CAMPAIGN_UPDATE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign updated successfully", result)
}

// StartCampaign moves a campaign into in_progress
func (h *CampaignHandler) StartCampaign(c fiber.Ctx) error {
	return h.lifecycle(c, "start", h.campaignFlow.StartCampaign)
}

// PauseCampaign suspends dialing for a campaign
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	return h.lifecycle(c, "pause", h.campaignFlow.PauseCampaign)
}

// ResumeCampaign returns a paused campaign to dialing
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	return h.lifecycle(c, "resume", h.campaignFlow.ResumeCampaign)
}

// CancelCampaign terminates a campaign
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	return h.lifecycle(c, "cancel", h.campaignFlow.CancelCampaign)
}

type lifecycleFunc func(ctx context.Context, req *dto.CampaignLifecycleRequest, metadata *businessflow.ClientMetadata) (*dto.CampaignLifecycleResponse, error)

func (h *CampaignHandler) lifecycle(c fiber.Ctx, action string, fn lifecycleFunc) error {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	organizationID, ok := c.Locals("organization_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := &dto.CampaignLifecycleRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: organizationID,
	}

	result, err := fn(h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/"+action), req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign "+action+" failed", "CAMPAIGN_TRANSITION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// GetCampaign returns one campaign with progress
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	organizationID, ok := c.Locals("organization_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := &dto.GetCampaignRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: organizationID,
	}

	result, err := h.campaignFlow.GetCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID), req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get campaign", "CAMPAIGN_LOOKUP_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaigns returns the organization's campaigns
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	organizationID, ok := c.Locals("organization_id").(uint)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := &dto.ListCampaignsRequest{
		OrganizationID: organizationID,
		Page:           fiber.Query[int](c, "page", 1),
		PageSize:       fiber.Query[int](c, "page_size", 20),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}

	if err := h.validator.Struct(req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.campaignFlow.ListCampaigns(h.createRequestContext(c, "/api/v1/campaigns"), req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list campaigns", "CAMPAIGN_LIST_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// businessErrorResponse maps business errors onto HTTP statuses
func (h *CampaignHandler) businessErrorResponse(c fiber.Ctx, err error, message, fallbackCode string) error {
	switch {
	case businessflow.IsCampaignNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	case businessflow.IsCampaignAccessDenied(err):
		return h.ErrorResponse(c, fiber.StatusForbidden, "Campaign access denied", "CAMPAIGN_ACCESS_DENIED", nil)
	case businessflow.IsInvalidStatusTransition(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Invalid campaign status transition", "CAMPAIGN_TRANSITION_REJECTED", err.Error())
	case businessflow.IsCampaignNotEditable(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Only draft campaigns can be edited", "CAMPAIGN_NOT_EDITABLE", nil)
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "CAMPAIGN_VALIDATION_FAILED", err.Error())
	default:
		log.Println(message, err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, message, fallbackCode, nil)
	}
}

// createRequestContext creates a context with timeout and request-scoped values
func (h *CampaignHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
