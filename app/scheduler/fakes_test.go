package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/repository"
	"github.com/callgrid/orthrus/utils"
)

// The fakes below implement the repository interfaces over in-memory maps
// with the same guard semantics as the SQL implementations, so the scheduler
// components can be exercised without a database.

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uint]*models.Campaign
	ccRepo    *fakeCampaignContactRepo
}

func newFakeCampaignRepo(ccRepo *fakeCampaignContactRepo) *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uint]*models.Campaign), ccRepo: ccRepo}
}

func (f *fakeCampaignRepo) add(c *models.Campaign) *models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = uint(len(f.campaigns) + 1)
	}
	f.campaigns[c.ID] = c
	return c
}

func (f *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) Save(ctx context.Context, c *models.Campaign) error {
	f.add(c)
	return nil
}

func (f *fakeCampaignRepo) SaveBatch(ctx context.Context, cs []*models.Campaign) error {
	for _, c := range cs {
		f.add(c)
	}
	return nil
}

func (f *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	return 0, nil
}

func (f *fakeCampaignRepo) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.UUID.String() == uuid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCampaignRepo) ListInProgress(ctx context.Context) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if c.Status == models.CampaignStatusInProgress {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaignRepo) TransitionStatus(ctx context.Context, campaignID uint, from []models.CampaignStatus, to models.CampaignStatus, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if c.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	c.Status = to
	if to == models.CampaignStatusInProgress && c.StartedAt == nil {
		c.StartedAt = utils.ToPtr(now)
	}
	if to.IsTerminal() {
		c.CompletedAt = utils.ToPtr(now)
	}
	return true, nil
}

func (f *fakeCampaignRepo) IncrementCallsCompleted(ctx context.Context, campaignID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[campaignID]
	if !ok || c.CallsCompleted >= c.TotalContacts {
		return false, nil
	}
	c.CallsCompleted++
	return true, nil
}

func (f *fakeCampaignRepo) MaybeComplete(ctx context.Context, campaignID uint, now time.Time) (bool, error) {
	f.mu.Lock()
	c, ok := f.campaigns[campaignID]
	if !ok || c.Status != models.CampaignStatusInProgress || c.CallsCompleted < c.TotalContacts {
		f.mu.Unlock()
		return false, nil
	}
	f.mu.Unlock()

	counts, err := f.ccRepo.StatusCounts(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if counts.Unresolved() > 0 {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c.Status = models.CampaignStatusCompleted
	c.CompletedAt = utils.ToPtr(now)
	return true, nil
}

type fakeCampaignContactRepo struct {
	mu      sync.Mutex
	entries map[uint]*models.CampaignContact
	nextID  uint

	// campaigns is consulted by ClaimBatch for the status gate and the
	// concurrency headroom, like the locked campaign read in the SQL claim
	campaigns *fakeCampaignRepo
}

func newFakeCampaignContactRepo() *fakeCampaignContactRepo {
	return &fakeCampaignContactRepo{entries: make(map[uint]*models.CampaignContact), nextID: 1}
}

func (f *fakeCampaignContactRepo) add(e *models.CampaignContact) *models.CampaignContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == 0 {
		e.ID = f.nextID
		f.nextID++
	}
	if e.CallStatus == "" {
		e.CallStatus = models.DialStatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	f.entries[e.ID] = e
	return e
}

func (f *fakeCampaignContactRepo) get(id uint) *models.CampaignContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (f *fakeCampaignContactRepo) ByID(ctx context.Context, id uint) (*models.CampaignContact, error) {
	return f.get(id), nil
}

func (f *fakeCampaignContactRepo) ByCallID(ctx context.Context, callID uint) (*models.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.CallID != nil && *e.CallID == callID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCampaignContactRepo) SaveBatch(ctx context.Context, entries []*models.CampaignContact) error {
	for _, e := range entries {
		f.add(e)
	}
	return nil
}

func (f *fakeCampaignContactRepo) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CampaignContact
	for _, e := range f.entries {
		if e.CampaignID == campaignID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaignContactRepo) ClaimBatch(ctx context.Context, campaignID uint, maxAttempts, limit int, now time.Time) ([]*models.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.campaigns != nil {
		campaign, err := f.campaigns.ByID(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if campaign == nil || campaign.Status != models.CampaignStatusInProgress {
			return nil, nil
		}
		var inFlight int
		for _, e := range f.entries {
			if e.CampaignID == campaignID && e.InFlight {
				inFlight++
			}
		}
		if headroom := campaign.MaxConcurrentCalls - inFlight; headroom < limit {
			limit = headroom
		}
		if limit <= 0 {
			return nil, nil
		}
	}

	var eligible []*models.CampaignContact
	for _, e := range f.entries {
		if e.CampaignID == campaignID && e.Claimable(maxAttempts) {
			eligible = append(eligible, e)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ContactID < eligible[j].ContactID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	var out []*models.CampaignContact
	for _, e := range eligible {
		e.CallStatus = models.DialStatusCalling
		e.InFlight = true
		e.ClaimedAt = utils.ToPtr(now)
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCampaignContactRepo) Release(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.CallStatus != models.DialStatusCalling {
		return nil
	}
	e.CallStatus = models.DialStatusPending
	e.InFlight = false
	e.ClaimedAt = nil
	e.CallID = nil
	return nil
}

func (f *fakeCampaignContactRepo) SetCallID(ctx context.Context, id, callID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.CallStatus != models.DialStatusCalling {
		return nil
	}
	e.CallID = &callID
	return nil
}

func (f *fakeCampaignContactRepo) Resolve(ctx context.Context, id uint, status models.DialStatus, callID *uint, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.CallStatus != models.DialStatusCalling {
		return false, nil
	}
	e.CallStatus = status
	e.InFlight = false
	e.ClaimedAt = nil
	e.AttemptCount++
	if callID != nil {
		e.CallID = callID
	}
	return true, nil
}

func (f *fakeCampaignContactRepo) Requeue(ctx context.Context, id uint, maxAttempts int, now time.Time) (models.DialStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return "", nil
	}
	if e.CallStatus != models.DialStatusCalling {
		return e.CallStatus, nil
	}
	e.AttemptCount++
	e.InFlight = false
	e.ClaimedAt = nil
	if e.AttemptCount >= maxAttempts {
		e.CallStatus = models.DialStatusFailed
	} else {
		e.CallStatus = models.DialStatusPending
	}
	return e.CallStatus, nil
}

func (f *fakeCampaignContactRepo) RequeueStale(ctx context.Context, cutoff, now time.Time) ([]*models.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CampaignContact
	for _, e := range f.entries {
		if !e.InFlight || e.ClaimedAt == nil || !e.ClaimedAt.Before(cutoff) {
			continue
		}
		e.AttemptCount++
		e.InFlight = false
		e.ClaimedAt = nil
		if e.AttemptCount >= 3 {
			e.CallStatus = models.DialStatusFailed
		} else {
			e.CallStatus = models.DialStatusPending
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCampaignContactRepo) CountInFlight(ctx context.Context, campaignID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if e.CampaignID == campaignID && e.InFlight {
			n++
		}
	}
	return n, nil
}

func (f *fakeCampaignContactRepo) StatusCounts(ctx context.Context, campaignID uint) (models.DialStatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts models.DialStatusCounts
	for _, e := range f.entries {
		if e.CampaignID != campaignID {
			continue
		}
		switch e.CallStatus {
		case models.DialStatusPending:
			counts.Pending++
		case models.DialStatusCalling:
			counts.Calling++
		case models.DialStatusCompleted:
			counts.Completed++
		case models.DialStatusFailed:
			counts.Failed++
		case models.DialStatusSkipped:
			counts.Skipped++
		}
	}
	return counts, nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[uint]*models.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[uint]*models.Contact)}
}

func (f *fakeContactRepo) add(c *models.Contact) *models.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = uint(len(f.contacts) + 1)
	}
	if c.Status == "" {
		c.Status = models.ContactStatusNew
	}
	f.contacts[c.ID] = c
	return c
}

func (f *fakeContactRepo) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContactRepo) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	return nil, nil
}

func (f *fakeContactRepo) Save(ctx context.Context, c *models.Contact) error {
	f.add(c)
	return nil
}

func (f *fakeContactRepo) SaveBatch(ctx context.Context, cs []*models.Contact) error {
	for _, c := range cs {
		f.add(c)
	}
	return nil
}

func (f *fakeContactRepo) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	return 0, nil
}

func (f *fakeContactRepo) ByUUID(ctx context.Context, uuid string) (*models.Contact, error) {
	return nil, nil
}

func (f *fakeContactRepo) IncrementCallAttempts(ctx context.Context, contactID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[contactID]; ok {
		c.CallAttempts++
	}
	return nil
}

func (f *fakeContactRepo) IncrementCallsConnected(ctx context.Context, contactID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[contactID]; ok {
		c.CallsConnected++
	}
	return nil
}

func (f *fakeContactRepo) ApplyDisposition(ctx context.Context, contactID uint, status models.ContactStatus, outcome *models.ContactOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[contactID]
	if !ok {
		return nil
	}
	if c.Outcome != nil && c.Outcome.Terminal() {
		return nil
	}
	c.Status = status
	if outcome != nil {
		c.Outcome = outcome
	}
	return nil
}

type fakeAgentRepo struct {
	mu     sync.Mutex
	agents map[uint]*models.Agent
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{agents: make(map[uint]*models.Agent)}
}

func (f *fakeAgentRepo) add(a *models.Agent) *models.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		a.ID = uint(len(f.agents) + 1)
	}
	f.agents[a.ID] = a
	return a
}

func (f *fakeAgentRepo) ByID(ctx context.Context, id uint) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAgentRepo) ByFilter(ctx context.Context, filter models.AgentFilter, orderBy string, limit, offset int) ([]*models.Agent, error) {
	return nil, nil
}

func (f *fakeAgentRepo) Save(ctx context.Context, a *models.Agent) error {
	f.add(a)
	return nil
}

func (f *fakeAgentRepo) SaveBatch(ctx context.Context, as []*models.Agent) error {
	for _, a := range as {
		f.add(a)
	}
	return nil
}

func (f *fakeAgentRepo) Count(ctx context.Context, filter models.AgentFilter) (int64, error) {
	return 0, nil
}

func (f *fakeAgentRepo) ByUUID(ctx context.Context, uuid string) (*models.Agent, error) {
	return nil, nil
}

type fakeCallRepo struct {
	mu     sync.Mutex
	calls  map[uint]*models.Call
	nextID uint
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{calls: make(map[uint]*models.Call), nextID: 1}
}

func (f *fakeCallRepo) get(id uint) *models.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (f *fakeCallRepo) ByID(ctx context.Context, id uint) (*models.Call, error) {
	return f.get(id), nil
}

func (f *fakeCallRepo) ByFilter(ctx context.Context, filter models.CallFilter, orderBy string, limit, offset int) ([]*models.Call, error) {
	return nil, nil
}

func (f *fakeCallRepo) Save(ctx context.Context, c *models.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = f.nextID
		f.nextID++
	}
	f.calls[c.ID] = c
	return nil
}

func (f *fakeCallRepo) SaveBatch(ctx context.Context, cs []*models.Call) error {
	for _, c := range cs {
		if err := f.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCallRepo) Count(ctx context.Context, filter models.CallFilter) (int64, error) {
	return 0, nil
}

func (f *fakeCallRepo) ByUUID(ctx context.Context, uuid string) (*models.Call, error) {
	return nil, nil
}

func (f *fakeCallRepo) ByProviderCallID(ctx context.Context, providerCallID string) (*models.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.ProviderCallID != nil && *c.ProviderCallID == providerCallID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCallRepo) SetProviderCallID(ctx context.Context, callID uint, providerCallID string, status models.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok {
		return nil
	}
	c.ProviderCallID = &providerCallID
	c.Status = status
	if c.StartedAt == nil {
		c.StartedAt = utils.ToPtr(utils.UTCNow())
	}
	return nil
}

func (f *fakeCallRepo) UpdateStatus(ctx context.Context, callID uint, status models.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok || c.Status.IsTerminal() {
		return nil
	}
	c.Status = status
	return nil
}

func (f *fakeCallRepo) Finalize(ctx context.Context, callID uint, result *repository.CallFinalization) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok || c.Status.IsTerminal() {
		return false, nil
	}
	c.Status = result.Status
	c.EndedAt = utils.ToPtr(result.EndedAt)
	c.DurationSeconds = result.DurationSeconds
	c.Transcript = result.Transcript
	c.Summary = result.Summary
	c.Sentiment = result.Sentiment
	c.DisconnectionReason = result.DisconnectionReason
	return true, nil
}

func (f *fakeCallRepo) CountStartedBetween(ctx context.Context, campaignID uint, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.calls {
		if c.CampaignID == nil || *c.CampaignID != campaignID || c.StartedAt == nil {
			continue
		}
		if !c.StartedAt.Before(from) && c.StartedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// passthroughTx runs the callback without a real transaction
func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

var (
	_ repository.CampaignRepository        = (*fakeCampaignRepo)(nil)
	_ repository.CampaignContactRepository = (*fakeCampaignContactRepo)(nil)
	_ repository.ContactRepository         = (*fakeContactRepo)(nil)
	_ repository.AgentRepository           = (*fakeAgentRepo)(nil)
	_ repository.CallRepository            = (*fakeCallRepo)(nil)
)
