package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EndpointRepository interface {
	Upsert(ctx context.Context, e *domain.Endpoint) error
	GetActive(ctx context.Context, userID string, channel domain.Channel) ([]domain.Endpoint, error)
	Deactivate(ctx context.Context, id string) error
	DeactivateByAddress(ctx context.Context, channel domain.Channel, address string) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

type GormEndpointRepo struct {
	db *gorm.DB
}

func NewGormEndpointRepo(db *gorm.DB) *GormEndpointRepo {
	return &GormEndpointRepo{db: db}
}

// Upsert registers or refreshes an endpoint. A re-registered address is
// reactivated in place; one row per (user, channel, address).
func (r *GormEndpointRepo) Upsert(ctx context.Context, e *domain.Endpoint) error {
	model := endpointModelFromDomain(e)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "channel"}, {Name: "address"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_active":    true,
				"platform":     model.Platform,
				"last_seen_at": time.Now().UTC(),
				"updated_at":   time.Now().UTC(),
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	var stored EndpointModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel = ? AND address = ?", model.UserID, model.Channel, model.Address).
		First(&stored).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *endpointModelToDomain(&stored)
	}
	return nil
}

func (r *GormEndpointRepo) GetActive(ctx context.Context, userID string, channel domain.Channel) ([]domain.Endpoint, error) {
	var models []EndpointModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel = ? AND is_active = ?", userID, channel, true).
		Order("last_seen_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	endpoints := make([]domain.Endpoint, 0, len(models))
	for i := range models {
		endpoints = append(endpoints, *endpointModelToDomain(&models[i]))
	}
	return endpoints, nil
}

func (r *GormEndpointRepo) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateByAddress retires every row carrying a provider-rejected
// address, regardless of owner.
func (r *GormEndpointRepo) DeactivateByAddress(ctx context.Context, channel domain.Channel, address string) error {
	return r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("channel = ? AND address = ?", channel, address).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *GormEndpointRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
