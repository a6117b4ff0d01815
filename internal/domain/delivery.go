package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the lifecycle state of a delivery record.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "PENDING"
	DeliveryStatusInFlight DeliveryStatus = "IN_FLIGHT"
	DeliveryStatusSent     DeliveryStatus = "SENT"
	DeliveryStatusRetrying DeliveryStatus = "RETRYING"
	DeliveryStatusFailed   DeliveryStatus = "FAILED"
	DeliveryStatusExpired  DeliveryStatus = "EXPIRED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusInFlight, DeliveryStatusSent,
		DeliveryStatusRetrying, DeliveryStatusFailed, DeliveryStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further dispatch attempt may touch a
// record in this status.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusFailed || s == DeliveryStatusExpired
}

// DeliveryRecord is the durable audit row for one attempted delivery:
// one row per (event, recipient, channel). Created in PENDING state at
// dispatch time, mutated by outcome callbacks and the retry scanner, and
// read-only history once ExpiresAt passes.
type DeliveryRecord struct {
	ID              string
	EventID         string
	IdempotencyKey  string
	RecipientUserID string
	Channel         Channel
	EndpointAddress string
	Category        Category
	Priority        Priority
	Topic           string
	Title           string
	Body            string
	Data            map[string]string
	Status          DeliveryStatus
	ErrorKind       ErrorKind
	ErrorMessage    string
	ProviderMsgID   string
	IsSent          bool
	SentAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	IsOpened        bool
	OpenedAt        *time.Time
	RetryCount      int
	NextRetryAt     *time.Time
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *DeliveryRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: delivery record is required", ErrValidation)
	}
	if strings.TrimSpace(r.EventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if strings.TrimSpace(r.RecipientUserID) == "" {
		return fmt.Errorf("%w: recipient user id is required", ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, r.Channel)
	}
	if strings.TrimSpace(r.EndpointAddress) == "" {
		return fmt.Errorf("%w: endpoint address is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	return nil
}

// Expired reports whether the record is past its ExpiresAt horizon.
func (r *DeliveryRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
