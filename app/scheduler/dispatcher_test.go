package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/callgrid/orthrus/app/services"
	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv wires the scheduler components against in-memory fakes
type testEnv struct {
	campaigns  *fakeCampaignRepo
	cc         *fakeCampaignContactRepo
	contacts   *fakeContactRepo
	agents     *fakeAgentRepo
	calls      *fakeCallRepo
	voice      *services.MockVoiceService
	pool       *WorkerPool
	reconciler *Reconciler
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(testWriter{t}, "", 0)

	cc := newFakeCampaignContactRepo()
	env := &testEnv{
		campaigns: newFakeCampaignRepo(cc),
		cc:        cc,
		contacts:  newFakeContactRepo(),
		agents:    newFakeAgentRepo(),
		calls:     newFakeCallRepo(),
		voice:     services.NewMockVoiceService(),
	}
	cc.campaigns = env.campaigns

	env.reconciler = NewReconciler(nil, env.campaigns, env.cc, env.contacts, env.calls, logger)
	env.reconciler.RunInTx = passthroughTx

	env.pool = NewWorkerPool(4, 16, env.voice, env.contacts, env.agents, env.calls, env.cc, env.reconciler, logger)
	env.dispatcher = NewDispatcher(env.campaigns, env.cc, env.calls, env.agents, env.pool, logger, time.Second)
	return env
}

// testWriter routes scheduler logs through the test log
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// seedCampaign creates an in_progress campaign with an agent and n queued contacts
func (env *testEnv) seedCampaign(n int, mutate func(*models.Campaign)) *models.Campaign {
	agent := env.agents.add(&models.Agent{
		OrganizationID: 1,
		Name:           "Test Agent",
		PhoneNumber:    "+15550000001",
		IsActive:       utils.ToPtr(true),
	})

	campaign := &models.Campaign{
		OrganizationID:     1,
		AgentID:            &agent.ID,
		Name:               "Test Campaign",
		Status:             models.CampaignStatusInProgress,
		TotalContacts:      n,
		MaxConcurrentCalls: 5,
		Timezone:           "UTC",
		MaxAttempts:        3,
	}
	if mutate != nil {
		mutate(campaign)
	}
	env.campaigns.add(campaign)

	for i := 0; i < n; i++ {
		contact := env.contacts.add(&models.Contact{
			OrganizationID: 1,
			PhoneNumber:    fmt.Sprintf("+1555000%04d", i+1),
		})
		env.cc.add(&models.CampaignContact{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
		})
	}
	return campaign
}

// pendingProviderCalls returns calls the provider accepted but has not yet
// reported terminal
func (env *testEnv) pendingProviderCalls() []*models.Call {
	env.calls.mu.Lock()
	defer env.calls.mu.Unlock()
	var out []*models.Call
	for _, c := range env.calls.calls {
		if c.ProviderCallID != nil && !c.Status.IsTerminal() {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

func TestDispatcherClaimsAndDialsContacts(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(3, nil)

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	counts, err := env.cc.StatusCounts(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Calling)

	// Every placed call is linked back to its claim entry
	entries, err := env.cc.ListByCampaign(context.Background(), campaign.ID, 10, 0)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotNil(t, entry.CallID)
	}
}

func TestDispatcherHonorsConcurrencyCap(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(5, func(c *models.Campaign) {
		c.MaxConcurrentCalls = 2
	})

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// With both slots occupied another tick claims nothing
	env.dispatcher.runOnce(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, env.voice.PlacedCount())

	inFlight, err := env.cc.CountInFlight(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inFlight)
}

func TestConcurrentDispatchersNeverExceedConcurrencyCap(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(10, nil)

	// A second scheduler process sharing the same store
	logger := log.New(testWriter{t}, "", 0)
	pool2 := NewWorkerPool(4, 16, env.voice, env.contacts, env.agents, env.calls, env.cc, env.reconciler, logger)
	dispatcher2 := NewDispatcher(env.campaigns, env.cc, env.calls, env.agents, pool2, logger, time.Second)

	stop := env.pool.Start(context.Background())
	defer stop()
	stop2 := pool2.Start(context.Background())
	defer stop2()

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{env.dispatcher, dispatcher2} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			d.runOnce(context.Background())
		}(d)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == campaign.MaxConcurrentCalls
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	inFlight, err := env.cc.CountInFlight(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(campaign.MaxConcurrentCalls), inFlight)
	assert.Equal(t, campaign.MaxConcurrentCalls, env.voice.PlacedCount())
}

func TestDispatcherRespectsCallWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seedCampaign(3, func(c *models.Campaign) {
		c.CallWindowStart = utils.ToPtr("09:00")
		c.CallWindowEnd = utils.ToPtr("17:00")
	})
	env.dispatcher.now = func() time.Time {
		return time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	}

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.voice.PlacedCount())

	// Inside the window the same campaign dials
	env.dispatcher.now = func() time.Time {
		return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	}
	env.dispatcher.runOnce(context.Background())
	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherRespectsDailyCap(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(5, func(c *models.Campaign) {
		c.DailyCap = utils.ToPtr(2)
	})

	// One call already started today
	env.calls.Save(context.Background(), &models.Call{
		OrganizationID: 1,
		CampaignID:     &campaign.ID,
		Status:         models.CallStatusCompleted,
		ToNumber:       "+15550001000",
		StartedAt:      utils.ToPtr(utils.UTCNow()),
	})

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.voice.PlacedCount())
}

func TestDispatcherDailyCapResetsNextDay(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(2, func(c *models.Campaign) {
		c.DailyCap = utils.ToPtr(2)
	})

	// Yesterday's calls do not count against today's budget
	env.calls.Save(context.Background(), &models.Call{
		OrganizationID: 1,
		CampaignID:     &campaign.ID,
		Status:         models.CallStatusCompleted,
		ToNumber:       "+15550001000",
		StartedAt:      utils.ToPtr(utils.UTCNow().Add(-24 * time.Hour)),
	})
	env.calls.Save(context.Background(), &models.Call{
		OrganizationID: 1,
		CampaignID:     &campaign.ID,
		Status:         models.CallStatusCompleted,
		ToNumber:       "+15550001001",
		StartedAt:      utils.ToPtr(utils.UTCNow().Add(-24 * time.Hour)),
	})

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherPromotesDueScheduledCampaigns(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(2, func(c *models.Campaign) {
		c.Status = models.CampaignStatusScheduled
		c.ScheduledAt = utils.ToPtr(utils.UTCNow().Add(-time.Minute))
	})

	stop := env.pool.Start(context.Background())
	defer stop()

	env.dispatcher.runOnce(context.Background())

	promoted, err := env.campaigns.ByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusInProgress, promoted.Status)
	assert.NotNil(t, promoted.StartedAt)

	require.Eventually(t, func() bool {
		return env.voice.PlacedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherSkipsUnstartableScheduledCampaigns(t *testing.T) {
	dueScheduled := func(c *models.Campaign) {
		c.Status = models.CampaignStatusScheduled
		c.ScheduledAt = utils.ToPtr(utils.UTCNow().Add(-time.Minute))
	}

	cases := map[string]func(env *testEnv) *models.Campaign{
		"NoAgent": func(env *testEnv) *models.Campaign {
			return env.seedCampaign(2, func(c *models.Campaign) {
				dueScheduled(c)
				c.AgentID = nil
			})
		},
		"InactiveAgent": func(env *testEnv) *models.Campaign {
			campaign := env.seedCampaign(2, dueScheduled)
			env.agents.mu.Lock()
			env.agents.agents[*campaign.AgentID].IsActive = utils.ToPtr(false)
			env.agents.mu.Unlock()
			return campaign
		},
		"NoContacts": func(env *testEnv) *models.Campaign {
			return env.seedCampaign(0, dueScheduled)
		},
	}

	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			campaign := seed(env)

			stop := env.pool.Start(context.Background())
			defer stop()

			for i := 0; i < 3; i++ {
				env.dispatcher.runOnce(context.Background())
			}
			time.Sleep(50 * time.Millisecond)

			// The campaign stays scheduled instead of churning in_progress
			unchanged, err := env.campaigns.ByID(context.Background(), campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusScheduled, unchanged.Status)
			assert.Nil(t, unchanged.StartedAt)
			assert.Equal(t, 0, env.voice.PlacedCount())

			inFlight, err := env.cc.CountInFlight(context.Background(), campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), inFlight)
		})
	}
}

func TestDispatcherIgnoresFutureScheduledCampaigns(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(2, func(c *models.Campaign) {
		c.Status = models.CampaignStatusScheduled
		c.ScheduledAt = utils.ToPtr(utils.UTCNow().Add(time.Hour))
	})

	env.dispatcher.runOnce(context.Background())

	unchanged, err := env.campaigns.ByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusScheduled, unchanged.Status)
}

func TestCampaignRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(3, func(c *models.Campaign) {
		c.MaxConcurrentCalls = 2
	})

	stop := env.pool.Start(context.Background())
	defer stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		current, err := env.campaigns.ByID(context.Background(), campaign.ID)
		require.NoError(t, err)
		if current.Status == models.CampaignStatusCompleted {
			break
		}
		require.True(t, time.Now().Before(deadline), "campaign did not complete in time")

		env.dispatcher.runOnce(context.Background())
		time.Sleep(20 * time.Millisecond)

		// The provider reports every in-flight call as completed
		for _, call := range env.pendingProviderCalls() {
			err := env.reconciler.HandleProviderResult(context.Background(), &ProviderCallResult{
				ProviderCallID: *call.ProviderCallID,
				Status:         models.CallStatusCompleted,
				EndedAt:        utils.UTCNow(),
			})
			require.NoError(t, err)
		}
	}

	final, err := env.campaigns.ByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CallsCompleted)
	assert.NotNil(t, final.CompletedAt)

	counts, err := env.cc.StatusCounts(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Completed)
	assert.Equal(t, int64(0), counts.Unresolved())

	// Concurrency cap was never exceeded
	assert.Equal(t, 3, env.voice.PlacedCount())
}
