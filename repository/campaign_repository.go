package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/models"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements CampaignRepository
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db)}
}

func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	db := r.getDB(ctx)
	var campaign models.Campaign
	if err := db.Where("uuid = ?", uuid).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var campaigns []*models.Campaign
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to find campaigns by filter: %w", err)
	}
	return campaigns, nil
}

func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Campaign{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.OrganizationID != nil {
		db = db.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.AgentID != nil {
		db = db.Where("agent_id = ?", *filter.AgentID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}

func (r *CampaignRepositoryImpl) ListInProgress(ctx context.Context) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	var campaigns []*models.Campaign
	err := db.Where("status = ?", models.CampaignStatusInProgress).
		Order("id ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *CampaignRepositoryImpl) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	var campaigns []*models.Campaign
	err := db.Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.CampaignStatusScheduled, now).
		Order("scheduled_at ASC, id ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, campaignID uint, from []models.CampaignStatus, to models.CampaignStatus, now time.Time) (bool, error) {
	db := r.getDB(ctx)

	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case models.CampaignStatusInProgress:
		// started_at is stamped once, on the first start
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	case models.CampaignStatusCompleted, models.CampaignStatusCancelled:
		updates["completed_at"] = now
	}

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", campaignID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition campaign %d to %s: %w", campaignID, to, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CampaignRepositoryImpl) IncrementCallsCompleted(ctx context.Context, campaignID uint) (bool, error) {
	db := r.getDB(ctx)
	res := db.Exec(`
		UPDATE campaigns
		SET calls_completed = calls_completed + 1
		WHERE id = ? AND calls_completed < total_contacts`,
		campaignID,
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to increment calls_completed for campaign %d: %w", campaignID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CampaignRepositoryImpl) MaybeComplete(ctx context.Context, campaignID uint, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Exec(`
		UPDATE campaigns
		SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'in_progress'
		  AND calls_completed >= total_contacts
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_contacts
			WHERE campaign_id = ? AND call_status IN ('pending', 'calling')
		  )`,
		now, now, campaignID, campaignID,
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete campaign %d: %w", campaignID, res.Error)
	}
	return res.RowsAffected > 0, nil
}
