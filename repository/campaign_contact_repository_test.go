package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/callgrid/orthrus/models"
	testingutil "github.com/callgrid/orthrus/testing"
	"github.com/callgrid/orthrus/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimTestEnv struct {
	db       *testingutil.TestDB
	fixtures *testingutil.TestFixtures
	repo     CampaignContactRepository
	campaign *models.Campaign
}

// newClaimTestEnv provisions a throwaway database with one running campaign
// and n pending queue entries, skipping the test when no database is
// reachable.
func newClaimTestEnv(t *testing.T, n int) *claimTestEnv {
	t.Helper()
	testDB := testingutil.SkipIfNoDB(t)
	t.Cleanup(func() {
		if err := testDB.TeardownTestDB(); err != nil {
			t.Logf("teardown failed: %v", err)
		}
	})

	fixtures := testingutil.NewTestFixtures(testDB)
	org, err := fixtures.CreateTestOrganization()
	require.NoError(t, err)
	agent, err := fixtures.CreateTestAgent(org.ID)
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(org.ID, &agent.ID)
	require.NoError(t, err)
	_, err = fixtures.SeedCampaignContacts(campaign, n)
	require.NoError(t, err)

	return &claimTestEnv{
		db:       testDB,
		fixtures: fixtures,
		repo:     NewCampaignContactRepository(testDB.DB),
		campaign: campaign,
	}
}

func (env *claimTestEnv) claimOne(t *testing.T) *models.CampaignContact {
	t.Helper()
	claimed, err := env.repo.ClaimBatch(context.Background(), env.campaign.ID, env.campaign.MaxAttempts, 1, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestClaimBatchMarksEntriesInFlight(t *testing.T) {
	env := newClaimTestEnv(t, 5)
	ctx := context.Background()

	claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 3, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	for _, entry := range claimed {
		assert.Equal(t, models.DialStatusCalling, entry.CallStatus)
		assert.True(t, entry.InFlight)
		assert.NotNil(t, entry.ClaimedAt)
	}

	inFlight, err := env.repo.CountInFlight(ctx, env.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inFlight)

	counts, err := env.repo.StatusCounts(ctx, env.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Pending)
	assert.Equal(t, int64(3), counts.Calling)
}

func TestClaimBatchConcurrentClaimantsAreDisjoint(t *testing.T) {
	env := newClaimTestEnv(t, 20)
	ctx := context.Background()

	err := env.db.DB.Exec(`UPDATE campaigns SET max_concurrent_calls = 20 WHERE id = ?`, env.campaign.ID).Error
	require.NoError(t, err)

	const claimants = 4
	results := make([][]*models.CampaignContact, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 5, utils.UTCNow())
			assert.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[uint]bool)
	total := 0
	for _, claimed := range results {
		for _, entry := range claimed {
			assert.False(t, seen[entry.ID], "entry %d claimed twice", entry.ID)
			seen[entry.ID] = true
			total++
		}
	}
	assert.Equal(t, 20, total)

	inFlight, err := env.repo.CountInFlight(ctx, env.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), inFlight)
}

func TestClaimBatchEnforcesConcurrencyCap(t *testing.T) {
	env := newClaimTestEnv(t, 10)
	ctx := context.Background()

	// The fixture campaign allows five concurrent calls; an oversized claim
	// is trimmed to the headroom inside the claim transaction
	claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 10, utils.UTCNow())
	require.NoError(t, err)
	assert.Len(t, claimed, env.campaign.MaxConcurrentCalls)

	// At the cap every further claim comes back empty, even from claimants
	// racing each other
	const claimants = 4
	var wg sync.WaitGroup
	extra := make([]int, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 10, utils.UTCNow())
			assert.NoError(t, err)
			extra[i] = len(got)
		}(i)
	}
	wg.Wait()
	for _, n := range extra {
		assert.Equal(t, 0, n)
	}

	inFlight, err := env.repo.CountInFlight(ctx, env.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(env.campaign.MaxConcurrentCalls), inFlight)

	// Releasing one claim frees exactly one slot
	require.NoError(t, env.repo.Release(ctx, claimed[0].ID))
	refill, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 10, utils.UTCNow())
	require.NoError(t, err)
	assert.Len(t, refill, 1)
}

func TestClaimBatchIgnoresNonRunningCampaigns(t *testing.T) {
	env := newClaimTestEnv(t, 3)
	ctx := context.Background()

	err := env.db.DB.Exec(`UPDATE campaigns SET status = 'paused' WHERE id = ?`, env.campaign.ID).Error
	require.NoError(t, err)

	claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 10, utils.UTCNow())
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReleaseDoesNotSpendAttempt(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()
	entry := env.claimOne(t)

	require.NoError(t, env.repo.Release(ctx, entry.ID))

	released, err := env.repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DialStatusPending, released.CallStatus)
	assert.False(t, released.InFlight)
	assert.Nil(t, released.ClaimedAt)
	assert.Equal(t, 0, released.AttemptCount)
}

func TestResolveIsIdempotent(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()
	entry := env.claimOne(t)

	settled, err := env.repo.Resolve(ctx, entry.ID, models.DialStatusCompleted, nil, utils.UTCNow())
	require.NoError(t, err)
	assert.True(t, settled)

	// A second resolution finds no claimed row and reports false
	settled, err = env.repo.Resolve(ctx, entry.ID, models.DialStatusCompleted, nil, utils.UTCNow())
	require.NoError(t, err)
	assert.False(t, settled)

	resolved, err := env.repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DialStatusCompleted, resolved.CallStatus)
	assert.Equal(t, 1, resolved.AttemptCount)
}

func TestResolveRejectsNonTerminalStatus(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	entry := env.claimOne(t)

	_, err := env.repo.Resolve(context.Background(), entry.ID, models.DialStatusPending, nil, utils.UTCNow())
	assert.Error(t, err)
}

func TestRequeueFailsEntryAtAttemptCeiling(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()

	// Two requeues stay under the ceiling of three, the third exhausts it
	for want := 1; want <= 2; want++ {
		entry := env.claimOne(t)
		status, err := env.repo.Requeue(ctx, entry.ID, env.campaign.MaxAttempts, utils.UTCNow())
		require.NoError(t, err)
		assert.Equal(t, models.DialStatusPending, status)

		row, err := env.repo.ByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, want, row.AttemptCount)
	}

	entry := env.claimOne(t)
	status, err := env.repo.Requeue(ctx, entry.ID, env.campaign.MaxAttempts, utils.UTCNow())
	require.NoError(t, err)
	assert.Equal(t, models.DialStatusFailed, status)
}

func TestRequeueOnSettledEntryReportsStoredStatus(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()
	entry := env.claimOne(t)

	_, err := env.repo.Resolve(ctx, entry.ID, models.DialStatusCompleted, nil, utils.UTCNow())
	require.NoError(t, err)

	status, err := env.repo.Requeue(ctx, entry.ID, env.campaign.MaxAttempts, utils.UTCNow())
	require.NoError(t, err)
	assert.Equal(t, models.DialStatusCompleted, status)

	// No extra attempt was charged
	row, err := env.repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.AttemptCount)
}

func TestRequeueStaleOnlyTouchesExpiredLeases(t *testing.T) {
	env := newClaimTestEnv(t, 2)
	ctx := context.Background()

	claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, env.campaign.MaxAttempts, 2, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	stale := claimed[0]
	err = env.db.DB.Exec(
		`UPDATE campaign_contacts SET claimed_at = ? WHERE id = ?`,
		utils.UTCNow().Add(-time.Hour), stale.ID,
	).Error
	require.NoError(t, err)

	requeued, err := env.repo.RequeueStale(ctx, utils.UTCNow().Add(-10*time.Minute), utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, stale.ID, requeued[0].ID)
	assert.Equal(t, models.DialStatusPending, requeued[0].CallStatus)
	assert.Equal(t, 1, requeued[0].AttemptCount)

	fresh, err := env.repo.ByID(ctx, claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.DialStatusCalling, fresh.CallStatus)
	assert.True(t, fresh.InFlight)
}

func TestFailedEntriesReclaimableUnderHigherCeiling(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()

	err := env.db.DB.Exec(
		`UPDATE campaign_contacts SET call_status = 'failed', attempt_count = 3 WHERE campaign_id = ?`,
		env.campaign.ID,
	).Error
	require.NoError(t, err)

	claimed, err := env.repo.ClaimBatch(ctx, env.campaign.ID, 3, 10, utils.UTCNow())
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Raising the campaign ceiling re-opens exhausted entries
	claimed, err = env.repo.ClaimBatch(ctx, env.campaign.ID, 5, 10, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, models.DialStatusCalling, claimed[0].CallStatus)
}

func TestSetCallIDOnlyWhileClaimed(t *testing.T) {
	env := newClaimTestEnv(t, 1)
	ctx := context.Background()
	entry := env.claimOne(t)

	require.NoError(t, env.repo.SetCallID(ctx, entry.ID, 77))
	row, err := env.repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, row.CallID)
	assert.Equal(t, uint(77), *row.CallID)

	linked, err := env.repo.ByCallID(ctx, 77)
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, entry.ID, linked.ID)

	// Once released the guard rejects late writes
	require.NoError(t, env.repo.Release(ctx, entry.ID))
	require.NoError(t, env.repo.SetCallID(ctx, entry.ID, 88))
	row, err = env.repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, row.CallID)
}
