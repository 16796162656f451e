package scheduler

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(env *testEnv, t *testing.T) *RecoverySweeper {
	t.Helper()
	logger := log.New(testWriter{t}, "", 0)
	return NewRecoverySweeper(env.cc, env.campaigns, env.calls, env.reconciler, logger, time.Minute, 10*time.Minute)
}

func TestRecoveryRequeuesStaleClaims(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(1, nil)
	entry, call := env.claimAndPlace(t, campaign)

	sweeper := newTestSweeper(env, t)

	// Fresh leases are left alone
	sweeper.runOnce(context.Background())
	assert.Equal(t, models.DialStatusCalling, env.cc.get(entry.ID).CallStatus)

	// Move time past the lease timeout
	sweeper.now = func() time.Time {
		return utils.UTCNow().Add(11 * time.Minute)
	}
	sweeper.runOnce(context.Background())

	requeued := env.cc.get(entry.ID)
	assert.Equal(t, models.DialStatusPending, requeued.CallStatus)
	assert.False(t, requeued.InFlight)
	assert.Equal(t, 1, requeued.AttemptCount)

	// The dangling call is closed out as failed
	abandoned := env.calls.get(call.ID)
	assert.Equal(t, models.CallStatusFailed, abandoned.Status)
	require.NotNil(t, abandoned.DisconnectionReason)
	assert.Equal(t, "call abandoned: claim lease expired", *abandoned.DisconnectionReason)
}

func TestRecoveryFailsEntriesAtAttemptCeiling(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(1, nil)

	// The entry has already burned two attempts; the stale sweep spends the third
	claimed, err := env.cc.ClaimBatch(context.Background(), campaign.ID, campaign.MaxAttempts, 1, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	env.cc.mu.Lock()
	env.cc.entries[claimed[0].ID].AttemptCount = 2
	env.cc.mu.Unlock()

	sweeper := newTestSweeper(env, t)
	sweeper.now = func() time.Time {
		return utils.UTCNow().Add(time.Hour)
	}
	sweeper.runOnce(context.Background())

	failed := env.cc.get(claimed[0].ID)
	assert.Equal(t, models.DialStatusFailed, failed.CallStatus)
	assert.Equal(t, 3, failed.AttemptCount)

	// Ceiling exhaustion still advances campaign completion
	done, err := env.campaigns.ByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, done.Status)
	assert.Equal(t, 1, done.CallsCompleted)
}

func TestRecoveryLeavesSettledEntriesAlone(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(1, nil)
	entry, call := env.claimAndPlace(t, campaign)

	err := env.reconciler.HandleProviderResult(context.Background(), &ProviderCallResult{
		ProviderCallID: *call.ProviderCallID,
		Status:         models.CallStatusCompleted,
		EndedAt:        utils.UTCNow(),
	})
	require.NoError(t, err)

	sweeper := newTestSweeper(env, t)
	sweeper.now = func() time.Time {
		return utils.UTCNow().Add(time.Hour)
	}
	sweeper.runOnce(context.Background())

	settled := env.cc.get(entry.ID)
	assert.Equal(t, models.DialStatusCompleted, settled.CallStatus)
	assert.Equal(t, 1, settled.AttemptCount)
}
