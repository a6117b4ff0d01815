package repository

import (
	"encoding/json"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

// SubscriptionModel is the persistence model for the subscriptions table.
type SubscriptionModel struct {
	ID                     string        `gorm:"type:uuid;primaryKey"`
	UserID                 string        `gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_user_topic,priority:1"`
	Topic                  string        `gorm:"type:varchar(100);not null;uniqueIndex:ux_subscriptions_user_topic,priority:2"`
	IsSubscribed           bool          `gorm:"not null;default:true"`
	Reason                 string        `gorm:"type:varchar(50)"`
	NotificationCount      int           `gorm:"not null;default:0"`
	LastNotificationSentAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// EndpointModel is the persistence model for the channel_endpoints table.
type EndpointModel struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	UserID     string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_endpoints_user_channel_address,priority:1"`
	Channel    domain.Channel `gorm:"type:varchar(10);not null;uniqueIndex:ux_endpoints_user_channel_address,priority:2"`
	Address    string         `gorm:"type:varchar(512);not null;uniqueIndex:ux_endpoints_user_channel_address,priority:3"`
	Platform   string         `gorm:"type:varchar(20)"`
	IsActive   bool           `gorm:"not null;default:true"`
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (EndpointModel) TableName() string {
	return "channel_endpoints"
}

// DeliveryRecordModel is the persistence model for the delivery_records table.
type DeliveryRecordModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	EventID         string                `gorm:"type:uuid;not null"`
	IdempotencyKey  string                `gorm:"type:varchar(255);not null;uniqueIndex:ux_deliveries_key_recipient_channel,priority:1"`
	RecipientUserID string                `gorm:"type:varchar(64);not null;uniqueIndex:ux_deliveries_key_recipient_channel,priority:2"`
	Channel         domain.Channel        `gorm:"type:varchar(10);not null;uniqueIndex:ux_deliveries_key_recipient_channel,priority:3"`
	EndpointAddress string                `gorm:"type:varchar(512);not null"`
	Category        domain.Category       `gorm:"type:varchar(30);not null"`
	Priority        domain.Priority       `gorm:"type:varchar(10);not null"`
	Topic           string                `gorm:"type:varchar(100)"`
	Title           string                `gorm:"type:varchar(200);not null"`
	Body            string                `gorm:"type:text;not null"`
	Data            string                `gorm:"type:text"`
	Status          domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	ErrorKind       domain.ErrorKind      `gorm:"type:varchar(30)"`
	ErrorMessage    string                `gorm:"type:text"`
	ProviderMsgID   string                `gorm:"type:varchar(255)"`
	IsSent          bool                  `gorm:"not null;default:false"`
	SentAt          *time.Time
	IsDelivered     bool `gorm:"not null;default:false"`
	DeliveredAt     *time.Time
	IsOpened        bool `gorm:"not null;default:false"`
	OpenedAt        *time.Time
	RetryCount      int `gorm:"not null;default:0"`
	NextRetryAt     *time.Time
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:                     s.ID,
		UserID:                 s.UserID,
		Topic:                  s.Topic,
		IsSubscribed:           s.IsSubscribed,
		Reason:                 s.Reason,
		NotificationCount:      s.NotificationCount,
		LastNotificationSentAt: s.LastNotificationSentAt,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:                     m.ID,
		UserID:                 m.UserID,
		Topic:                  m.Topic,
		IsSubscribed:           m.IsSubscribed,
		Reason:                 m.Reason,
		NotificationCount:      m.NotificationCount,
		LastNotificationSentAt: m.LastNotificationSentAt,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

func endpointModelFromDomain(e *domain.Endpoint) *EndpointModel {
	if e == nil {
		return nil
	}

	return &EndpointModel{
		ID:         e.ID,
		UserID:     e.UserID,
		Channel:    e.Channel,
		Address:    e.Address,
		Platform:   e.Platform,
		IsActive:   e.IsActive,
		LastSeenAt: e.LastSeenAt,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func endpointModelToDomain(m *EndpointModel) *domain.Endpoint {
	if m == nil {
		return nil
	}

	return &domain.Endpoint{
		ID:         m.ID,
		UserID:     m.UserID,
		Channel:    m.Channel,
		Address:    m.Address,
		Platform:   m.Platform,
		IsActive:   m.IsActive,
		LastSeenAt: m.LastSeenAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func deliveryModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		ID:              r.ID,
		EventID:         r.EventID,
		IdempotencyKey:  r.IdempotencyKey,
		RecipientUserID: r.RecipientUserID,
		Channel:         r.Channel,
		EndpointAddress: r.EndpointAddress,
		Category:        r.Category,
		Priority:        r.Priority,
		Topic:           r.Topic,
		Title:           r.Title,
		Body:            r.Body,
		Data:            encodeDataMap(r.Data),
		Status:          r.Status,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		ProviderMsgID:   r.ProviderMsgID,
		IsSent:          r.IsSent,
		SentAt:          r.SentAt,
		IsDelivered:     r.IsDelivered,
		DeliveredAt:     r.DeliveredAt,
		IsOpened:        r.IsOpened,
		OpenedAt:        r.OpenedAt,
		RetryCount:      r.RetryCount,
		NextRetryAt:     r.NextRetryAt,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:              m.ID,
		EventID:         m.EventID,
		IdempotencyKey:  m.IdempotencyKey,
		RecipientUserID: m.RecipientUserID,
		Channel:         m.Channel,
		EndpointAddress: m.EndpointAddress,
		Category:        m.Category,
		Priority:        m.Priority,
		Topic:           m.Topic,
		Title:           m.Title,
		Body:            m.Body,
		Data:            decodeDataMap(m.Data),
		Status:          m.Status,
		ErrorKind:       m.ErrorKind,
		ErrorMessage:    m.ErrorMessage,
		ProviderMsgID:   m.ProviderMsgID,
		IsSent:          m.IsSent,
		SentAt:          m.SentAt,
		IsDelivered:     m.IsDelivered,
		DeliveredAt:     m.DeliveredAt,
		IsOpened:        m.IsOpened,
		OpenedAt:        m.OpenedAt,
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func encodeDataMap(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeDataMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}
	return data
}
