package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/queue"
	"github.com/dekuworks/runner-alerts/internal/service"
)

// AlertDispatcher fans one alert event out to its resolved audience.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, event *domain.AlertEvent) (*service.FanoutResult, error)
}

type AlertHandler struct {
	dispatcher AlertDispatcher
	publisher  queue.Publisher
}

func NewAlertHandler(dispatcher AlertDispatcher, publisher queue.Publisher) (*AlertHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("alert dispatcher is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &AlertHandler{dispatcher: dispatcher, publisher: publisher}, nil
}

func RegisterAlertRoutes(router fiber.Router, dispatcher AlertDispatcher, publisher queue.Publisher) error {
	h, err := NewAlertHandler(dispatcher, publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/alerts", h.DispatchAlert)
	v1.Post("/alerts/enqueue", h.EnqueueAlert)

	return nil
}

type createAlertRequest struct {
	EventID        string            `json:"eventId"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Category       string            `json:"category"`
	Priority       string            `json:"priority"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	CaseID         string            `json:"caseId,omitempty"`
	RelatedUserID  string            `json:"relatedUserId,omitempty"`
	Recipients     []string          `json:"recipients,omitempty"`
	Latitude       *float64          `json:"latitude,omitempty"`
	Longitude      *float64          `json:"longitude,omitempty"`
	RadiusKm       *float64          `json:"radiusKm,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
}

type channelOutcomeItem struct {
	Channel  string `json:"channel"`
	Sent     int    `json:"sent"`
	Retrying int    `json:"retrying"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

type fanoutResponse struct {
	EventID      string               `json:"eventId"`
	AudienceSize int                  `json:"audienceSize"`
	Duplicates   int                  `json:"duplicates"`
	Channels     []channelOutcomeItem `json:"channels"`
}

type enqueueAlertResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// DispatchAlert fans the event out synchronously and reports the
// per-channel outcome counts in the response.
func (h *AlertHandler) DispatchAlert(c *fiber.Ctx) error {
	var req createAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := requestToAlertEvent(req, requestCorrelationID(c))
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.dispatcher.Dispatch(c.Context(), &event)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toFanoutResponse(result))
}

// EnqueueAlert accepts the event and hands it to the intake queue; the
// worker dispatches it out of band.
func (h *AlertHandler) EnqueueAlert(c *fiber.Ctx) error {
	var req createAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := requestToAlertEvent(req, requestCorrelationID(c))
	if err != nil {
		return toHTTPError(err)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	msg := queue.NewAlertMessage(&event)
	if err := msg.Validate(); err != nil {
		return toHTTPError(err)
	}

	if err := h.publisher.Publish(c.Context(), queue.AlertQueueName, msg); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueAlertResponse{
		EventID: event.ID,
		Status:  "queued",
	})
}

func requestToAlertEvent(req createAlertRequest, fallbackKey string) (domain.AlertEvent, error) {
	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return domain.AlertEvent{}, err
	}

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return domain.AlertEvent{}, err
	}

	event := domain.AlertEvent{
		ID:                 strings.TrimSpace(req.EventID),
		IdempotencyKey:     strings.TrimSpace(req.IdempotencyKey),
		Category:           category,
		Priority:           priority,
		Title:              strings.TrimSpace(req.Title),
		Body:               strings.TrimSpace(req.Body),
		CaseID:             strings.TrimSpace(req.CaseID),
		RelatedUserID:      strings.TrimSpace(req.RelatedUserID),
		ExplicitRecipients: req.Recipients,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		RadiusKm:           req.RadiusKm,
		Data:               req.Data,
	}

	if event.IdempotencyKey == "" {
		event.IdempotencyKey = strings.TrimSpace(fallbackKey)
	}
	if event.IdempotencyKey == "" {
		return domain.AlertEvent{}, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}

	return event, nil
}

func toFanoutResponse(result *service.FanoutResult) fanoutResponse {
	if result == nil {
		return fanoutResponse{}
	}

	channels := make([]channelOutcomeItem, 0, len(result.Counts))
	for ch, outcome := range result.Counts {
		channels = append(channels, channelOutcomeItem{
			Channel:  ch.String(),
			Sent:     outcome.Sent,
			Retrying: outcome.Retrying,
			Failed:   outcome.Failed,
			Skipped:  outcome.Skipped,
		})
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Channel < channels[j].Channel })

	return fanoutResponse{
		EventID:      result.EventID,
		AudienceSize: result.AudienceSize,
		Duplicates:   result.Duplicates,
		Channels:     channels,
	}
}
