package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"time"

	"github.com/callgrid/orthrus/app/dto"
	"github.com/callgrid/orthrus/app/scheduler"
	"github.com/callgrid/orthrus/app/services"
	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CallWebhookHandlerInterface defines the contract for provider callbacks
type CallWebhookHandlerInterface interface {
	HandleVoiceWebhook(c fiber.Ctx) error
}

// CallWebhookHandler receives call status callbacks from the voice provider
// and feeds them into the reconciler.
type CallWebhookHandler struct {
	reconciler *scheduler.Reconciler
	secret     string
	validator  *validator.Validate
}

// NewCallWebhookHandler creates a new webhook handler. secret, when set, is
// required in the X-Webhook-Secret header of every callback.
func NewCallWebhookHandler(reconciler *scheduler.Reconciler, secret string) *CallWebhookHandler {
	return &CallWebhookHandler{
		reconciler: reconciler,
		secret:     secret,
		validator:  validator.New(),
	}
}

// HandleVoiceWebhook processes one provider callback. The provider retries
// on non-2xx responses, so duplicate deliveries are expected and absorbed
// by the reconciler's idempotent settlement.
func (h *CallWebhookHandler) HandleVoiceWebhook(c fiber.Ctx) error {
	if h.secret != "" {
		got := c.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid webhook secret",
				Error:   dto.ErrorDetail{Code: "INVALID_WEBHOOK_SECRET"},
			})
		}
	}

	var req dto.VoiceWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{
			Success: false,
			Message: "Invalid request body",
			Error:   dto.ErrorDetail{Code: "INVALID_REQUEST", Details: err.Error()},
		})
	}
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{
			Success: false,
			Message: "Validation failed",
			Error:   dto.ErrorDetail{Code: "VALIDATION_ERROR", Details: validationErrors},
		})
	}

	result := h.toProviderResult(&req)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))

	if err := h.reconciler.HandleProviderResult(ctx, result); err != nil {
		if errors.Is(err, scheduler.ErrUnknownProviderCall) {
			return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
				Success: false,
				Message: "Unknown call",
				Error:   dto.ErrorDetail{Code: "UNKNOWN_CALL"},
			})
		}
		log.Println("Webhook processing failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{
			Success: false,
			Message: "Webhook processing failed",
			Error:   dto.ErrorDetail{Code: "WEBHOOK_PROCESSING_FAILED"},
		})
	}

	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
		Success: true,
		Message: "Webhook processed",
		Data:    dto.VoiceWebhookResponse{Message: "ok"},
	})
}

func (h *CallWebhookHandler) toProviderResult(req *dto.VoiceWebhookRequest) *scheduler.ProviderCallResult {
	result := &scheduler.ProviderCallResult{
		ProviderCallID:      req.CallID,
		Status:              services.MapProviderStatus(req.Status),
		EndedAt:             utils.UTCNow(),
		DurationSeconds:     req.DurationSeconds,
		Transcript:          req.Transcript,
		Summary:             req.Summary,
		Sentiment:           req.Sentiment,
		DisconnectionReason: req.DisconnectionReason,
	}
	if req.EndedAt != nil {
		result.EndedAt = time.Unix(*req.EndedAt, 0).UTC()
	}
	if req.Outcome != nil {
		outcome := models.ContactOutcome(*req.Outcome)
		if outcome.Valid() {
			result.Outcome = &outcome
		}
	}
	return result
}
