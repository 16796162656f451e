package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/models"
	"gorm.io/gorm"
)

// CallRepositoryImpl implements CallRepository
type CallRepositoryImpl struct {
	*BaseRepository[models.Call, models.CallFilter]
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &CallRepositoryImpl{BaseRepository: NewBaseRepository[models.Call, models.CallFilter](db)}
}

func (r *CallRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Call, error) {
	db := r.getDB(ctx)
	var call models.Call
	if err := db.Where("uuid = ?", uuid).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &call, nil
}

func (r *CallRepositoryImpl) ByProviderCallID(ctx context.Context, providerCallID string) (*models.Call, error) {
	db := r.getDB(ctx)
	var call models.Call
	if err := db.Where("provider_call_id = ?", providerCallID).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &call, nil
}

func (r *CallRepositoryImpl) ByFilter(ctx context.Context, filter models.CallFilter, orderBy string, limit, offset int) ([]*models.Call, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Call{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var calls []*models.Call
	if err := query.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("failed to find calls by filter: %w", err)
	}
	return calls, nil
}

func (r *CallRepositoryImpl) Count(ctx context.Context, filter models.CallFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Call{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CallRepositoryImpl) applyFilter(db *gorm.DB, filter models.CallFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.OrganizationID != nil {
		db = db.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ContactID != nil {
		db = db.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.StartedAfter != nil {
		db = db.Where("started_at >= ?", *filter.StartedAfter)
	}
	if filter.StartedBefore != nil {
		db = db.Where("started_at < ?", *filter.StartedBefore)
	}
	return db
}

// SetProviderCallID records the provider's call handle once the dial has
// been accepted, stamping started_at.
func (r *CallRepositoryImpl) SetProviderCallID(ctx context.Context, callID uint, providerCallID string, status models.CallStatus) error {
	db := r.getDB(ctx)
	now := time.Now().UTC()
	err := db.Model(&models.Call{}).
		Where("id = ?", callID).
		Updates(map[string]any{
			"provider_call_id": providerCallID,
			"status":           status,
			"started_at":       gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at":       now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set provider call id for call %d: %w", callID, err)
	}
	return nil
}

func (r *CallRepositoryImpl) UpdateStatus(ctx context.Context, callID uint, status models.CallStatus) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Call{}).
		Where("id = ? AND status NOT IN ?", callID, terminalCallStatuses()).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update status for call %d: %w", callID, err)
	}
	return nil
}

func (r *CallRepositoryImpl) Finalize(ctx context.Context, callID uint, result *CallFinalization) (bool, error) {
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize call %d with non-terminal status %s", callID, result.Status)
	}
	db := r.getDB(ctx)
	res := db.Model(&models.Call{}).
		Where("id = ? AND status NOT IN ?", callID, terminalCallStatuses()).
		Updates(map[string]any{
			"status":               result.Status,
			"ended_at":             result.EndedAt,
			"duration_seconds":     result.DurationSeconds,
			"transcript":           result.Transcript,
			"summary":              result.Summary,
			"sentiment":            result.Sentiment,
			"disconnection_reason": result.DisconnectionReason,
			"updated_at":           result.EndedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to finalize call %d: %w", callID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CallRepositoryImpl) CountStartedBetween(ctx context.Context, campaignID uint, from, to time.Time) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.Call{}).
		Where("campaign_id = ? AND started_at >= ? AND started_at < ?", campaignID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count calls for campaign %d: %w", campaignID, err)
	}
	return count, nil
}

func terminalCallStatuses() []models.CallStatus {
	return []models.CallStatus{
		models.CallStatusCompleted,
		models.CallStatusNoAnswer,
		models.CallStatusBusy,
		models.CallStatusVoicemail,
		models.CallStatusFailed,
	}
}
