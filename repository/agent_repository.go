package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/callgrid/orthrus/models"
	"gorm.io/gorm"
)

// AgentRepositoryImpl implements AgentRepository
type AgentRepositoryImpl struct {
	*BaseRepository[models.Agent, models.AgentFilter]
}

func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &AgentRepositoryImpl{BaseRepository: NewBaseRepository[models.Agent, models.AgentFilter](db)}
}

func (r *AgentRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Agent, error) {
	db := r.getDB(ctx)
	var agent models.Agent
	if err := db.Where("uuid = ?", uuid).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

func (r *AgentRepositoryImpl) ByFilter(ctx context.Context, filter models.AgentFilter, orderBy string, limit, offset int) ([]*models.Agent, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Agent{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var agents []*models.Agent
	if err := query.Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("failed to find agents by filter: %w", err)
	}
	return agents, nil
}

func (r *AgentRepositoryImpl) Count(ctx context.Context, filter models.AgentFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Agent{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AgentRepositoryImpl) applyFilter(db *gorm.DB, filter models.AgentFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.OrganizationID != nil {
		db = db.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	return db
}
