package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"gorm.io/gorm"
)

type DeliveryListParams struct {
	Status   *domain.DeliveryStatus
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type ChannelStatusCount struct {
	Channel domain.Channel        `gorm:"column:channel"`
	Status  domain.DeliveryStatus `gorm:"column:status"`
	Count   int                   `gorm:"column:count"`
}

type DeliveryRepository interface {
	Create(ctx context.Context, r *domain.DeliveryRecord) error
	CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryRecord, error)
	FindByEventID(ctx context.Context, eventID string) ([]domain.DeliveryRecord, error)
	List(ctx context.Context, params DeliveryListParams) ([]domain.DeliveryRecord, int64, error)
	MarkSent(ctx context.Context, id, providerMsgID string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkOpened(ctx context.Context, id string, at time.Time) error
	MarkErrored(ctx context.Context, id string, kind domain.ErrorKind, message string, nextRetryAt *time.Time) error
	ClaimForDispatch(ctx context.Context, id string) (bool, error)
	FindRetryable(ctx context.Context, olderThan time.Time, maxRetry, limit int) ([]domain.DeliveryRecord, error)
	MarkExpiredBefore(ctx context.Context, now time.Time) (int64, error)
	CountByEventChannel(ctx context.Context, eventID string) ([]ChannelStatusCount, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, record *domain.DeliveryRecord) error {
	model := deliveryModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error {
	models := make([]DeliveryRecordModel, 0, len(records))
	indexes := make([]int, 0, len(records))
	for i, record := range records {
		model := deliveryModelFromDomain(record)
		if model != nil {
			models = append(models, *model)
			indexes = append(indexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := indexes[i]
		if idx < len(records) && records[idx] != nil {
			*records[idx] = *deliveryModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) FindByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormDeliveryRepo) FindByEventID(ctx context.Context, eventID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormDeliveryRepo) List(ctx context.Context, params DeliveryListParams) ([]domain.DeliveryRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryRecordModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeliveryRecordModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return deliveryModelsToDomain(models), total, nil
}

func (r *GormDeliveryRepo) MarkSent(ctx context.Context, id, providerMsgID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          domain.DeliveryStatusSent,
			"is_sent":         true,
			"sent_at":         at,
			"provider_msg_id": providerMsgID,
			"error_kind":      "",
			"error_message":   "",
			"next_retry_at":   nil,
			"updated_at":      at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDelivered records a provider delivery receipt. Rows past their
// expiry horizon are read-only history and reject the update.
func (r *GormDeliveryRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.markReceipt(ctx, id, at, map[string]any{
		"is_delivered": true,
		"delivered_at": at,
		"updated_at":   at,
	})
}

func (r *GormDeliveryRepo) MarkOpened(ctx context.Context, id string, at time.Time) error {
	return r.markReceipt(ctx, id, at, map[string]any{
		"is_opened":  true,
		"opened_at":  at,
		"updated_at": at,
	})
}

func (r *GormDeliveryRepo) markReceipt(ctx context.Context, id string, at time.Time, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND (expires_at IS NULL OR expires_at > ?)", id, at).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing row from an expired one.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// MarkErrored moves a record to RETRYING when a next attempt is
// scheduled, or FAILED otherwise, bumping the retry counter.
func (r *GormDeliveryRepo) MarkErrored(ctx context.Context, id string, kind domain.ErrorKind, message string, nextRetryAt *time.Time) error {
	status := domain.DeliveryStatusFailed
	if nextRetryAt != nil {
		status = domain.DeliveryStatusRetrying
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_kind":    kind,
			"error_message": message,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nextRetryAt,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimForDispatch flips PENDING/RETRYING to IN_FLIGHT with
// compare-and-set semantics so the retry scanner and a live batch never
// dispatch the same record concurrently. Returns false when the record
// is already claimed or terminal.
func (r *GormDeliveryRepo) ClaimForDispatch(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status IN ?", id, []domain.DeliveryStatus{
			domain.DeliveryStatusPending,
			domain.DeliveryStatusRetrying,
		}).
		Updates(map[string]any{
			"status":     domain.DeliveryStatusInFlight,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormDeliveryRepo) FindRetryable(ctx context.Context, olderThan time.Time, maxRetry, limit int) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND next_retry_at <= ?",
			domain.DeliveryStatusRetrying, maxRetry, olderThan).
		Where("expires_at IS NULL OR expires_at > ?", olderThan).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

// MarkExpiredBefore freezes open records whose expiry horizon has
// passed; they remain as read-only history.
func (r *GormDeliveryRepo) MarkExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND status IN ?", now, []domain.DeliveryStatus{
			domain.DeliveryStatusPending,
			domain.DeliveryStatusRetrying,
		}).
		Updates(map[string]any{
			"status":     domain.DeliveryStatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormDeliveryRepo) CountByEventChannel(ctx context.Context, eventID string) ([]ChannelStatusCount, error) {
	var counts []ChannelStatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Select("channel, status, COUNT(*) as count").
		Where("event_id = ?", eventID).
		Group("channel, status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func deliveryModelsToDomain(models []DeliveryRecordModel) []domain.DeliveryRecord {
	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records
}
