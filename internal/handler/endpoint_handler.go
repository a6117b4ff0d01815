package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

type EndpointService interface {
	Register(ctx context.Context, userID string, ch domain.Channel, address, platform string) (*domain.Endpoint, error)
	Remove(ctx context.Context, ch domain.Channel, address string) error
	Active(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error)
}

type EndpointHandler struct {
	service EndpointService
}

func NewEndpointHandler(service EndpointService) (*EndpointHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("endpoint service is required")
	}
	return &EndpointHandler{service: service}, nil
}

func RegisterEndpointRoutes(router fiber.Router, service EndpointService) error {
	h, err := NewEndpointHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/endpoints", h.RegisterEndpoint)
	v1.Delete("/endpoints", h.RemoveEndpoint)
	v1.Get("/users/:userId/endpoints", h.ListUserEndpoints)

	return nil
}

type registerEndpointRequest struct {
	UserID   string `json:"userId"`
	Channel  string `json:"channel"`
	Address  string `json:"address"`
	Platform string `json:"platform,omitempty"`
}

type removeEndpointRequest struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
}

type endpointResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Channel    string    `json:"channel"`
	Address    string    `json:"address"`
	Platform   string    `json:"platform,omitempty"`
	IsActive   bool      `json:"isActive"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type userEndpointsResponse struct {
	UserID    string             `json:"userId"`
	Endpoints []endpointResponse `json:"endpoints"`
}

func (h *EndpointHandler) RegisterEndpoint(c *fiber.Ctx) error {
	var req registerEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	endpoint, err := h.service.Register(c.Context(), req.UserID, channel, req.Address, req.Platform)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toEndpointResponse(endpoint))
}

func (h *EndpointHandler) RemoveEndpoint(c *fiber.Ctx) error {
	var req removeEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.service.Remove(c.Context(), channel, req.Address); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"channel": channel.String(),
		"address": strings.TrimSpace(req.Address),
		"status":  "removed",
	})
}

// ListUserEndpoints returns the user's active endpoints on the channel
// named by the required ?channel= query parameter.
func (h *EndpointHandler) ListUserEndpoints(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	channel, err := domain.ParseChannelFromString(c.Query("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	endpoints, err := h.service.Active(c.Context(), userID, channel)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]endpointResponse, 0, len(endpoints))
	for _, endpoint := range endpoints {
		e := endpoint
		responses = append(responses, toEndpointResponse(&e))
	}

	return c.Status(fiber.StatusOK).JSON(userEndpointsResponse{
		UserID:    userID,
		Endpoints: responses,
	})
}

func toEndpointResponse(e *domain.Endpoint) endpointResponse {
	if e == nil {
		return endpointResponse{}
	}

	return endpointResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		Channel:    e.Channel.String(),
		Address:    e.Address,
		Platform:   e.Platform,
		IsActive:   e.IsActive,
		LastSeenAt: e.LastSeenAt,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}
