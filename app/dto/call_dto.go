package dto

// VoiceWebhookRequest represents a provider callback for one call. The
// provider posts interim status changes and one terminal event per call.
type VoiceWebhookRequest struct {
	CallID              string  `json:"call_id" validate:"required"`
	Status              string  `json:"status" validate:"required"`
	EndedAt             *int64  `json:"ended_at,omitempty"` // unix seconds
	DurationSeconds     *int    `json:"duration_seconds,omitempty" validate:"omitempty,min=0"`
	Transcript          *string `json:"transcript,omitempty"`
	Summary             *string `json:"summary,omitempty"`
	Sentiment           *string `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative"`
	DisconnectionReason *string `json:"disconnection_reason,omitempty"`
	Outcome             *string `json:"outcome,omitempty"`
}

// VoiceWebhookResponse acknowledges a provider callback
type VoiceWebhookResponse struct {
	Message string `json:"message"`
}
