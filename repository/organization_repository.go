package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/callgrid/orthrus/models"
	"gorm.io/gorm"
)

// OrganizationRepositoryImpl implements OrganizationRepository
type OrganizationRepositoryImpl struct {
	*BaseRepository[models.Organization, models.OrganizationFilter]
}

func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &OrganizationRepositoryImpl{BaseRepository: NewBaseRepository[models.Organization, models.OrganizationFilter](db)}
}

func (r *OrganizationRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Organization, error) {
	db := r.getDB(ctx)
	var org models.Organization
	if err := db.Where("uuid = ?", uuid).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepositoryImpl) ByFilter(ctx context.Context, filter models.OrganizationFilter, orderBy string, limit, offset int) ([]*models.Organization, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Organization{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var orgs []*models.Organization
	if err := query.Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("failed to find organizations by filter: %w", err)
	}
	return orgs, nil
}

func (r *OrganizationRepositoryImpl) Count(ctx context.Context, filter models.OrganizationFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Organization{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *OrganizationRepositoryImpl) applyFilter(db *gorm.DB, filter models.OrganizationFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	return db
}
