// Package services provides external service integrations and technical concerns like voice dialing and tokens
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/callgrid/orthrus/config"
	"github.com/callgrid/orthrus/models"
	"github.com/google/uuid"
)

// Voice provider error constants
var (
	ErrInvalidNumber         = errors.New("destination number rejected by provider")
	ErrProviderUnavailable   = errors.New("voice provider unavailable")
	ErrProviderCallNotFound  = errors.New("provider call not found")
	ErrProviderRejectedAgent = errors.New("agent configuration rejected by provider")
)

// VoiceService places outbound calls through the telephony provider
type VoiceService interface {
	PlaceCall(ctx context.Context, req *PlaceCallRequest) (*CallResult, error)
}

// PlaceCallRequest carries everything the provider needs to start a dial
type PlaceCallRequest struct {
	CallID      uint              `json:"-"`
	FromNumber  string            `json:"from_number"`
	ToNumber    string            `json:"to_number"`
	AgentName   string            `json:"agent_name"`
	Voice       string            `json:"voice,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CallResult is the provider's acknowledgement of an accepted dial
type CallResult struct {
	ProviderCallID string            `json:"call_id"`
	Status         models.CallStatus `json:"status"`
}

// VoiceServiceImpl implements VoiceService against the provider's HTTP API
type VoiceServiceImpl struct {
	config *config.VoiceConfig
	client *http.Client
}

// voiceAPIResponse represents the provider's create-call response
type voiceAPIResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewVoiceService creates a new voice service instance
func NewVoiceService(cfg *config.VoiceConfig) VoiceService {
	return &VoiceServiceImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// PlaceCall asks the provider to start an outbound call. The provider runs
// the call asynchronously and reports the terminal result on the webhook; a
// nil error here only means the dial was accepted.
func (s *VoiceServiceImpl) PlaceCall(ctx context.Context, req *PlaceCallRequest) (*CallResult, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = s.config.CallbackURL
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call request: %w", err)
	}

	url := fmt.Sprintf("https://%s/v1/calls", s.config.ProviderDomain)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var result voiceAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrInvalidNumber, result.Error)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway:
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, result.Error)
	default:
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, result.Error)
	}

	if result.CallID == "" {
		return nil, fmt.Errorf("provider accepted the call but returned no call id")
	}

	return &CallResult{
		ProviderCallID: result.CallID,
		Status:         MapProviderStatus(result.Status),
	}, nil
}

// MapProviderStatus normalizes the provider's status vocabulary
func MapProviderStatus(status string) models.CallStatus {
	switch status {
	case "queued", "created", "registered":
		return models.CallStatusQueued
	case "ringing":
		return models.CallStatusRinging
	case "ongoing", "in_progress", "answered":
		return models.CallStatusInProgress
	case "ended", "completed":
		return models.CallStatusCompleted
	case "no_answer", "no-answer":
		return models.CallStatusNoAnswer
	case "busy":
		return models.CallStatusBusy
	case "voicemail", "machine_detected":
		return models.CallStatusVoicemail
	case "error", "failed":
		return models.CallStatusFailed
	default:
		return models.CallStatusQueued
	}
}

// MockVoiceService implements VoiceService for testing and local development
type MockVoiceService struct {
	mu          sync.Mutex
	PlacedCalls []*PlaceCallRequest
	FailWith    error
	NextStatus  models.CallStatus
}

// NewMockVoiceService creates a mock voice service
func NewMockVoiceService() *MockVoiceService {
	return &MockVoiceService{NextStatus: models.CallStatusQueued}
}

// PlaceCall records the request and fabricates a provider call id
func (m *MockVoiceService) PlaceCall(ctx context.Context, req *PlaceCallRequest) (*CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.PlacedCalls = append(m.PlacedCalls, req)
	return &CallResult{
		ProviderCallID: "mock-" + uuid.New().String(),
		Status:         m.NextStatus,
	}, nil
}

// PlacedCount returns how many calls were placed
func (m *MockVoiceService) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PlacedCalls)
}

var _ VoiceService = (*VoiceServiceImpl)(nil)
var _ VoiceService = (*MockVoiceService)(nil)
