package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/callgrid/orthrus/models"
	"github.com/callgrid/orthrus/utils"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements ContactRepository
type ContactRepositoryImpl struct {
	*BaseRepository[models.Contact, models.ContactFilter]
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{BaseRepository: NewBaseRepository[models.Contact, models.ContactFilter](db)}
}

func (r *ContactRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Contact, error) {
	db := r.getDB(ctx)
	var contact models.Contact
	if err := db.Where("uuid = ?", uuid).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func (r *ContactRepositoryImpl) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Contact{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var contacts []*models.Contact
	if err := query.Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to find contacts by filter: %w", err)
	}
	return contacts, nil
}

func (r *ContactRepositoryImpl) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Contact{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ContactRepositoryImpl) applyFilter(db *gorm.DB, filter models.ContactFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.OrganizationID != nil {
		db = db.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Outcome != nil {
		db = db.Where("outcome = ?", *filter.Outcome)
	}
	return db
}

func (r *ContactRepositoryImpl) IncrementCallAttempts(ctx context.Context, contactID uint) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Contact{}).
		Where("id = ?", contactID).
		UpdateColumn("call_attempts", gorm.Expr("call_attempts + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment call_attempts for contact %d: %w", contactID, err)
	}
	return nil
}

func (r *ContactRepositoryImpl) IncrementCallsConnected(ctx context.Context, contactID uint) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Contact{}).
		Where("id = ?", contactID).
		UpdateColumn("calls_connected", gorm.Expr("calls_connected + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment calls_connected for contact %d: %w", contactID, err)
	}
	return nil
}

// ApplyDisposition records the post-call status and outcome. A contact
// already closed with a terminal outcome keeps it.
func (r *ContactRepositoryImpl) ApplyDisposition(ctx context.Context, contactID uint, status models.ContactStatus, outcome *models.ContactOutcome) error {
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":     status,
		"updated_at": utils.UTCNow(),
	}
	if outcome != nil {
		updates["outcome"] = *outcome
	}
	err := db.Model(&models.Contact{}).
		Where("id = ? AND (outcome IS NULL OR outcome NOT IN ?)", contactID, terminalOutcomes()).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to apply disposition for contact %d: %w", contactID, err)
	}
	return nil
}

func terminalOutcomes() []models.ContactOutcome {
	return []models.ContactOutcome{
		models.ContactOutcomeBooked,
		models.ContactOutcomeNotInterested,
		models.ContactOutcomeWrongNumber,
		models.ContactOutcomeDNC,
		models.ContactOutcomeUnqualified,
	}
}
