// Package testing provides test utilities and database setup for testing the campaign system
package testing

import (
	"fmt"
	"math/rand"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestOrganization creates a test organization
func (tf *TestFixtures) CreateTestOrganization() (*models.Organization, error) {
	org := &models.Organization{
		Name:     fmt.Sprintf("Test Org %d", rand.Intn(100000)),
		IsActive: utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(org).Error; err != nil {
		return nil, fmt.Errorf("failed to create test organization: %w", err)
	}
	return org, nil
}

// CreateTestAgent creates an active voice agent for the organization
func (tf *TestFixtures) CreateTestAgent(organizationID uint) (*models.Agent, error) {
	agent := &models.Agent{
		OrganizationID: organizationID,
		Name:           "Test Agent",
		Voice:          utils.ToPtr("alloy"),
		PhoneNumber:    "+15550000001",
		Prompt:         utils.ToPtr("You are a friendly sales assistant."),
		IsActive:       utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(agent).Error; err != nil {
		return nil, fmt.Errorf("failed to create test agent: %w", err)
	}
	return agent, nil
}

// CreateTestContact creates a contact with a unique phone number
func (tf *TestFixtures) CreateTestContact(organizationID uint) (*models.Contact, error) {
	randomDigits := fmt.Sprintf("%09d", rand.Intn(900000000)+100000000)
	contact := &models.Contact{
		OrganizationID: organizationID,
		FirstName:      "Jane",
		LastName:       "Doe",
		PhoneNumber:    fmt.Sprintf("+1%s0", randomDigits),
		Status:         models.ContactStatusNew,
	}
	if err := tf.DB.DB.Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create test contact: %w", err)
	}
	return contact, nil
}

// CreateTestCampaign creates an in_progress campaign with an open call window
func (tf *TestFixtures) CreateTestCampaign(organizationID uint, agentID *uint) (*models.Campaign, error) {
	campaign := &models.Campaign{
		OrganizationID:     organizationID,
		AgentID:            agentID,
		Name:               fmt.Sprintf("Test Campaign %d", rand.Intn(100000)),
		Status:             models.CampaignStatusInProgress,
		MaxConcurrentCalls: 5,
		Timezone:           "UTC",
		MaxAttempts:        3,
		StartedAt:          utils.ToPtr(utils.UTCNow()),
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// SeedCampaignContacts creates n contacts and enqueues them on the campaign
func (tf *TestFixtures) SeedCampaignContacts(campaign *models.Campaign, n int) ([]*models.CampaignContact, error) {
	entries := make([]*models.CampaignContact, 0, n)
	for i := 0; i < n; i++ {
		contact, err := tf.CreateTestContact(campaign.OrganizationID)
		if err != nil {
			return nil, err
		}
		entry := &models.CampaignContact{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			CallStatus: models.DialStatusPending,
		}
		if err := tf.DB.DB.Create(entry).Error; err != nil {
			return nil, fmt.Errorf("failed to create campaign contact: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := tf.DB.DB.Model(campaign).Update("total_contacts", n).Error; err != nil {
		return nil, fmt.Errorf("failed to update total contacts: %w", err)
	}
	campaign.TotalContacts = n
	return entries, nil
}
