package services

import (
	"context"
	"testing"

	"github.com/callgrid/orthrus/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]models.CallStatus{
		"queued":           models.CallStatusQueued,
		"created":          models.CallStatusQueued,
		"registered":       models.CallStatusQueued,
		"ringing":          models.CallStatusRinging,
		"ongoing":          models.CallStatusInProgress,
		"in_progress":      models.CallStatusInProgress,
		"answered":         models.CallStatusInProgress,
		"ended":            models.CallStatusCompleted,
		"completed":        models.CallStatusCompleted,
		"no_answer":        models.CallStatusNoAnswer,
		"no-answer":        models.CallStatusNoAnswer,
		"busy":             models.CallStatusBusy,
		"voicemail":        models.CallStatusVoicemail,
		"machine_detected": models.CallStatusVoicemail,
		"error":            models.CallStatusFailed,
		"failed":           models.CallStatusFailed,
		"something-new":    models.CallStatusQueued,
	}
	for input, want := range cases {
		assert.Equal(t, want, MapProviderStatus(input), "input %q", input)
	}
}

func TestMockVoiceServicePlaceCall(t *testing.T) {
	mock := NewMockVoiceService()

	result, err := mock.PlaceCall(context.Background(), &PlaceCallRequest{
		CallID:     1,
		FromNumber: "+15550000001",
		ToNumber:   "+15550001000",
		AgentName:  "Test Agent",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProviderCallID)
	assert.Equal(t, models.CallStatusQueued, result.Status)
	assert.Equal(t, 1, mock.PlacedCount())
}

func TestMockVoiceServiceFailWith(t *testing.T) {
	mock := NewMockVoiceService()
	mock.FailWith = ErrProviderUnavailable

	_, err := mock.PlaceCall(context.Background(), &PlaceCallRequest{
		ToNumber: "+15550001000",
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 0, mock.PlacedCount())
}
