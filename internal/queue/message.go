package queue

import (
	"fmt"
	"strings"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

// AlertMessage is the broker payload for asynchronous dispatch. The full
// event rides along so the intake worker needs no read-back: events are
// never persisted on their own.
type AlertMessage struct {
	EventID            string            `json:"eventId"`
	IdempotencyKey     string            `json:"idempotencyKey"`
	Category           domain.Category   `json:"category"`
	Priority           domain.Priority   `json:"priority"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	CaseID             string            `json:"caseId,omitempty"`
	RelatedUserID      string            `json:"relatedUserId,omitempty"`
	ExplicitRecipients []string          `json:"explicitRecipients,omitempty"`
	Latitude           *float64          `json:"latitude,omitempty"`
	Longitude          *float64          `json:"longitude,omitempty"`
	RadiusKm           *float64          `json:"radiusKm,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
}

// NewAlertMessage packs an event for the intake queue.
func NewAlertMessage(event *domain.AlertEvent) AlertMessage {
	return AlertMessage{
		EventID:            event.ID,
		IdempotencyKey:     event.IdempotencyKey,
		Category:           event.Category,
		Priority:           event.Priority,
		Title:              event.Title,
		Body:               event.Body,
		CaseID:             event.CaseID,
		RelatedUserID:      event.RelatedUserID,
		ExplicitRecipients: event.ExplicitRecipients,
		Latitude:           event.Latitude,
		Longitude:          event.Longitude,
		RadiusKm:           event.RadiusKm,
		Data:               event.Data,
	}
}

// Event unpacks the message back into a dispatchable alert event.
func (m AlertMessage) Event() *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:                 m.EventID,
		IdempotencyKey:     m.IdempotencyKey,
		Category:           m.Category,
		Priority:           m.Priority,
		Title:              m.Title,
		Body:               m.Body,
		CaseID:             m.CaseID,
		RelatedUserID:      m.RelatedUserID,
		ExplicitRecipients: m.ExplicitRecipients,
		Latitude:           m.Latitude,
		Longitude:          m.Longitude,
		RadiusKm:           m.RadiusKm,
		Data:               m.Data,
	}
}

func (m AlertMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(m.IdempotencyKey) == "" {
		return fmt.Errorf("idempotencyKey is required")
	}
	if !m.Category.IsValid() {
		return fmt.Errorf("invalid category %q", m.Category)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
