package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/repository"
)

// DeliveryStore is the slice of the delivery repository the HTTP
// surface needs: history reads and provider receipt writes.
type DeliveryStore interface {
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	FindByEventID(ctx context.Context, eventID string) ([]domain.DeliveryRecord, error)
	List(ctx context.Context, params repository.DeliveryListParams) ([]domain.DeliveryRecord, int64, error)
	CountByEventChannel(ctx context.Context, eventID string) ([]repository.ChannelStatusCount, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkOpened(ctx context.Context, id string, at time.Time) error
}

type DeliveryHandler struct {
	store DeliveryStore

	now func() time.Time
}

func NewDeliveryHandler(store DeliveryStore) (*DeliveryHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	return &DeliveryHandler{store: store, now: time.Now}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, store DeliveryStore) error {
	h, err := NewDeliveryHandler(store)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/alerts/:id/deliveries", h.ListEventDeliveries)
	v1.Get("/deliveries", h.ListDeliveries)
	v1.Get("/deliveries/:id", h.GetDelivery)
	v1.Post("/deliveries/:id/delivered", h.MarkDelivered)
	v1.Post("/deliveries/:id/opened", h.MarkOpened)

	return nil
}

type deliveryResponse struct {
	ID              string     `json:"id"`
	EventID         string     `json:"eventId"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	RecipientUserID string     `json:"recipientUserId"`
	Channel         string     `json:"channel"`
	EndpointAddress string     `json:"endpointAddress,omitempty"`
	Category        string     `json:"category"`
	Priority        string     `json:"priority"`
	Topic           string     `json:"topic,omitempty"`
	Status          string     `json:"status"`
	ErrorKind       string     `json:"errorKind,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ProviderMsgID   string     `json:"providerMessageId,omitempty"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"`
	RetryCount      int        `json:"retryCount"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type eventDeliveriesResponse struct {
	EventID    string                   `json:"eventId"`
	Deliveries []deliveryResponse       `json:"deliveries"`
	Counts     []channelStatusCountItem `json:"counts"`
}

type channelStatusCountItem struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Count   int    `json:"count"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type receiptResponse struct {
	DeliveryID string `json:"deliveryId"`
	Receipt    string `json:"receipt"`
}

// ListEventDeliveries returns every delivery record produced for one
// alert event together with per-channel status counts.
func (h *DeliveryHandler) ListEventDeliveries(c *fiber.Ctx) error {
	eventID := strings.TrimSpace(c.Params("id"))
	if eventID == "" {
		return toHTTPError(fmt.Errorf("%w: event id is required", domain.ErrValidation))
	}

	records, err := h.store.FindByEventID(c.Context(), eventID)
	if err != nil {
		return toHTTPError(err)
	}

	counts, err := h.store.CountByEventChannel(c.Context(), eventID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]channelStatusCountItem, 0, len(counts))
	for _, count := range counts {
		items = append(items, channelStatusCountItem{
			Channel: count.Channel.String(),
			Status:  count.Status.String(),
			Count:   count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(eventDeliveriesResponse{
		EventID:    eventID,
		Deliveries: toDeliveryResponses(records),
		Counts:     items,
	})
}

func (h *DeliveryHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseDeliveryListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, total, err := h.store.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: toDeliveryResponses(records),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	record, err := h.store.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(record))
}

// MarkDelivered records a provider delivery receipt for one record.
func (h *DeliveryHandler) MarkDelivered(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.store.MarkDelivered(c.Context(), id, h.now().UTC()); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(receiptResponse{
		DeliveryID: id,
		Receipt:    "delivered",
	})
}

// MarkOpened records that the recipient opened the alert.
func (h *DeliveryHandler) MarkOpened(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.store.MarkOpened(c.Context(), id, h.now().UTC()); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(receiptResponse{
		DeliveryID: id,
		Receipt:    "opened",
	})
}

func parseDeliveryListParams(c *fiber.Ctx) (repository.DeliveryListParams, error) {
	params := repository.DeliveryListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.DeliveryListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.DeliveryListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status := domain.DeliveryStatus(strings.ToUpper(rawStatus))
		if !status.IsValid() {
			return repository.DeliveryListParams{}, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, rawStatus)
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.DeliveryListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.DeliveryListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.DeliveryListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func toDeliveryResponses(records []domain.DeliveryRecord) []deliveryResponse {
	responses := make([]deliveryResponse, 0, len(records))
	for _, record := range records {
		r := record
		responses = append(responses, toDeliveryResponse(&r))
	}
	return responses
}

func toDeliveryResponse(record *domain.DeliveryRecord) deliveryResponse {
	if record == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:              record.ID,
		EventID:         record.EventID,
		IdempotencyKey:  record.IdempotencyKey,
		RecipientUserID: record.RecipientUserID,
		Channel:         record.Channel.String(),
		EndpointAddress: record.EndpointAddress,
		Category:        record.Category.String(),
		Priority:        record.Priority.String(),
		Topic:           record.Topic,
		Status:          record.Status.String(),
		ErrorKind:       record.ErrorKind.String(),
		ErrorMessage:    record.ErrorMessage,
		ProviderMsgID:   record.ProviderMsgID,
		SentAt:          record.SentAt,
		DeliveredAt:     record.DeliveredAt,
		OpenedAt:        record.OpenedAt,
		RetryCount:      record.RetryCount,
		NextRetryAt:     record.NextRetryAt,
		ExpiresAt:       record.ExpiresAt,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}
