package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/models"
	"gorm.io/gorm"
)

// CampaignContactRepositoryImpl implements CampaignContactRepository
type CampaignContactRepositoryImpl struct {
	*BaseRepository[models.CampaignContact, any]
}

func NewCampaignContactRepository(db *gorm.DB) CampaignContactRepository {
	return &CampaignContactRepositoryImpl{BaseRepository: NewBaseRepository[models.CampaignContact, any](db)}
}

func (r *CampaignContactRepositoryImpl) ByID(ctx context.Context, id uint) (*models.CampaignContact, error) {
	return r.BaseRepository.ByID(ctx, id)
}

func (r *CampaignContactRepositoryImpl) ByCallID(ctx context.Context, callID uint) (*models.CampaignContact, error) {
	db := r.getDB(ctx)
	var row models.CampaignContact
	if err := db.Where("call_id = ?", callID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *CampaignContactRepositoryImpl) SaveBatch(ctx context.Context, entries []*models.CampaignContact) error {
	return r.BaseRepository.SaveBatch(ctx, entries)
}

func (r *CampaignContactRepositoryImpl) ListByCampaign(ctx context.Context, campaignID uint, limit, offset int) ([]*models.CampaignContact, error) {
	db := r.getDB(ctx)
	query := db.Where("campaign_id = ?", campaignID).Order("created_at ASC, contact_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.CampaignContact
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ClaimBatch marks up to limit eligible entries in_flight, never more than
// the campaign's remaining concurrency headroom. The campaign row is locked
// first so concurrent claimants serialize per campaign: the in-flight count
// read under that lock cannot go stale before the claim lands, which keeps
// the max_concurrent_calls bound intact across multiple scheduler processes.
// The inner SELECT takes row locks with SKIP LOCKED so claimants never
// receive rows another transaction already holds.
func (r *CampaignContactRepositoryImpl) ClaimBatch(ctx context.Context, campaignID uint, maxAttempts, limit int, now time.Time) ([]*models.CampaignContact, error) {
	if limit <= 0 {
		return nil, nil
	}
	db := r.getDB(ctx)

	var rows []*models.CampaignContact
	err := db.Transaction(func(tx *gorm.DB) error {
		var campaign struct{ MaxConcurrentCalls int }
		res := tx.Raw(`
			SELECT max_concurrent_calls
			FROM campaigns
			WHERE id = ? AND status = 'in_progress'
			FOR UPDATE`,
			campaignID,
		).Scan(&campaign)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Not running; nothing to claim
			return nil
		}

		var inFlight int64
		if err := tx.Raw(`
			SELECT COUNT(*)
			FROM campaign_contacts
			WHERE campaign_id = ? AND in_flight`,
			campaignID,
		).Scan(&inFlight).Error; err != nil {
			return err
		}
		if headroom := campaign.MaxConcurrentCalls - int(inFlight); headroom < limit {
			limit = headroom
		}
		if limit <= 0 {
			return nil
		}

		return tx.Raw(`
			UPDATE campaign_contacts
			SET in_flight = TRUE,
			    call_status = 'calling',
			    claimed_at = ?,
			    updated_at = ?
			WHERE id IN (
				SELECT id
				FROM campaign_contacts
				WHERE campaign_id = ?
				  AND in_flight = FALSE
				  AND (call_status = 'pending' OR (call_status = 'failed' AND attempt_count < ?))
				ORDER BY created_at ASC, contact_id ASC
				LIMIT ?
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *`,
			now, now, campaignID, maxAttempts, limit,
		).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign contacts: %w", err)
	}
	return rows, nil
}

// Release returns a claimed entry to pending without spending an attempt
func (r *CampaignContactRepositoryImpl) Release(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Exec(`
		UPDATE campaign_contacts
		SET in_flight = FALSE, call_status = 'pending', claimed_at = NULL, call_id = NULL
		WHERE id = ? AND call_status = 'calling'`,
		id,
	).Error
}

func (r *CampaignContactRepositoryImpl) SetCallID(ctx context.Context, id, callID uint) error {
	db := r.getDB(ctx)
	err := db.Exec(`
		UPDATE campaign_contacts
		SET call_id = ?
		WHERE id = ? AND call_status = 'calling'`,
		callID, id,
	).Error
	if err != nil {
		return fmt.Errorf("failed to set call id for campaign contact %d: %w", id, err)
	}
	return nil
}

func (r *CampaignContactRepositoryImpl) Resolve(ctx context.Context, id uint, status models.DialStatus, callID *uint, now time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot resolve campaign contact %d to non-terminal status %s", id, status)
	}
	db := r.getDB(ctx)
	res := db.Exec(`
		UPDATE campaign_contacts
		SET call_status = ?,
		    in_flight = FALSE,
		    claimed_at = NULL,
		    attempt_count = attempt_count + 1,
		    call_id = COALESCE(?, call_id),
		    updated_at = ?
		WHERE id = ? AND call_status = 'calling'`,
		status, callID, now, id,
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to resolve campaign contact %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CampaignContactRepositoryImpl) Requeue(ctx context.Context, id uint, maxAttempts int, now time.Time) (models.DialStatus, error) {
	db := r.getDB(ctx)
	var out struct {
		CallStatus models.DialStatus
	}
	res := db.Raw(`
		UPDATE campaign_contacts
		SET attempt_count = attempt_count + 1,
		    in_flight = FALSE,
		    claimed_at = NULL,
		    call_status = CASE WHEN attempt_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
		    updated_at = ?
		WHERE id = ? AND call_status = 'calling'
		RETURNING call_status`,
		maxAttempts, now, id,
	).Scan(&out)
	if res.Error != nil {
		return "", fmt.Errorf("failed to requeue campaign contact %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Already resolved by another path; report the stored status
		row, err := r.ByID(ctx, id)
		if err != nil {
			return "", err
		}
		if row == nil {
			return "", fmt.Errorf("campaign contact %d not found", id)
		}
		return row.CallStatus, nil
	}
	return out.CallStatus, nil
}

func (r *CampaignContactRepositoryImpl) RequeueStale(ctx context.Context, cutoff, now time.Time) ([]*models.CampaignContact, error) {
	db := r.getDB(ctx)
	var rows []*models.CampaignContact
	err := db.Raw(`
		UPDATE campaign_contacts cc
		SET attempt_count = cc.attempt_count + 1,
		    in_flight = FALSE,
		    claimed_at = NULL,
		    call_status = CASE WHEN cc.attempt_count + 1 >= c.max_attempts THEN 'failed' ELSE 'pending' END,
		    updated_at = ?
		FROM campaigns c
		WHERE c.id = cc.campaign_id
		  AND cc.in_flight = TRUE
		  AND cc.claimed_at < ?
		RETURNING cc.*`,
		now, cutoff,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale campaign contacts: %w", err)
	}
	return rows, nil
}

func (r *CampaignContactRepositoryImpl) CountInFlight(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.CampaignContact{}).
		Where("campaign_id = ? AND in_flight = TRUE", campaignID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CampaignContactRepositoryImpl) StatusCounts(ctx context.Context, campaignID uint) (models.DialStatusCounts, error) {
	db := r.getDB(ctx)
	var rows []struct {
		CallStatus models.DialStatus
		N          int64
	}
	err := db.Model(&models.CampaignContact{}).
		Select("call_status, COUNT(*) AS n").
		Where("campaign_id = ?", campaignID).
		Group("call_status").
		Scan(&rows).Error
	if err != nil {
		return models.DialStatusCounts{}, err
	}

	var counts models.DialStatusCounts
	for _, row := range rows {
		switch row.CallStatus {
		case models.DialStatusPending:
			counts.Pending = row.N
		case models.DialStatusCalling:
			counts.Calling = row.N
		case models.DialStatusCompleted:
			counts.Completed = row.N
		case models.DialStatusFailed:
			counts.Failed = row.N
		case models.DialStatusSkipped:
			counts.Skipped = row.N
		}
	}
	return counts, nil
}
