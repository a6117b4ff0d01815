package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

type SubscriptionService interface {
	Subscribe(ctx context.Context, userID, topic, reason string) (*domain.Subscription, error)
	Unsubscribe(ctx context.Context, userID, topic string) error
	Topics(ctx context.Context, userID string) ([]domain.Subscription, error)
	SubscribeDefaults(ctx context.Context, userID, role string) ([]domain.Subscription, error)
}

type SubscriptionHandler struct {
	service SubscriptionService
}

func NewSubscriptionHandler(service SubscriptionService) (*SubscriptionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &SubscriptionHandler{service: service}, nil
}

func RegisterSubscriptionRoutes(router fiber.Router, service SubscriptionService) error {
	h, err := NewSubscriptionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/subscriptions", h.Subscribe)
	v1.Delete("/subscriptions", h.Unsubscribe)
	v1.Get("/users/:userId/subscriptions", h.ListUserSubscriptions)
	v1.Post("/users/:userId/subscriptions/defaults", h.SubscribeDefaults)

	return nil
}

type subscribeRequest struct {
	UserID string `json:"userId"`
	Topic  string `json:"topic"`
	Reason string `json:"reason,omitempty"`
}

type subscribeDefaultsRequest struct {
	Role string `json:"role"`
}

type subscriptionResponse struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Topic             string     `json:"topic"`
	IsSubscribed      bool       `json:"isSubscribed"`
	Reason            string     `json:"reason,omitempty"`
	NotificationCount int        `json:"notificationCount"`
	LastNotifiedAt    *time.Time `json:"lastNotifiedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type userSubscriptionsResponse struct {
	UserID        string                 `json:"userId"`
	Subscriptions []subscriptionResponse `json:"subscriptions"`
}

func (h *SubscriptionHandler) Subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	subscription, err := h.service.Subscribe(c.Context(), req.UserID, req.Topic, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toSubscriptionResponse(subscription))
}

// Unsubscribe deactivates the (user, topic) pair. Missing pairs succeed
// so the operation stays idempotent for clients.
func (h *SubscriptionHandler) Unsubscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Unsubscribe(c.Context(), req.UserID, req.Topic); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId": strings.TrimSpace(req.UserID),
		"topic":  strings.TrimSpace(req.Topic),
		"status": "unsubscribed",
	})
}

func (h *SubscriptionHandler) ListUserSubscriptions(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	subscriptions, err := h.service.Topics(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(userSubscriptionsResponse{
		UserID:        userID,
		Subscriptions: toSubscriptionResponses(subscriptions),
	})
}

// SubscribeDefaults provisions the role's default topics for a user.
func (h *SubscriptionHandler) SubscribeDefaults(c *fiber.Ctx) error {
	var req subscribeDefaultsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	userID := strings.TrimSpace(c.Params("userId"))
	subscriptions, err := h.service.SubscribeDefaults(c.Context(), userID, req.Role)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(userSubscriptionsResponse{
		UserID:        userID,
		Subscriptions: toSubscriptionResponses(subscriptions),
	})
}

func toSubscriptionResponses(subscriptions []domain.Subscription) []subscriptionResponse {
	responses := make([]subscriptionResponse, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		s := subscription
		responses = append(responses, toSubscriptionResponse(&s))
	}
	return responses
}

func toSubscriptionResponse(s *domain.Subscription) subscriptionResponse {
	if s == nil {
		return subscriptionResponse{}
	}

	return subscriptionResponse{
		ID:                s.ID,
		UserID:            s.UserID,
		Topic:             s.Topic,
		IsSubscribed:      s.IsSubscribed,
		Reason:            s.Reason,
		NotificationCount: s.NotificationCount,
		LastNotifiedAt:    s.LastNotificationSentAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}
