package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EndpointService manages the channel endpoint registry: push tokens,
// email addresses, and phone numbers users can be reached at.
type EndpointService struct {
	endpoints repository.EndpointRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewEndpointService(
	endpoints repository.EndpointRepository,
	logger *zap.Logger,
) (*EndpointService, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EndpointService{
		endpoints: endpoints,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Register upserts an endpoint, reactivating a previously deactivated
// address. Realtime endpoints are implicit and rejected here.
func (s *EndpointService) Register(ctx context.Context, userID string, ch domain.Channel, address, platform string) (*domain.Endpoint, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if ch == domain.ChannelRealtime {
		return nil, fmt.Errorf("%w: realtime endpoints are implicit and cannot be registered", domain.ErrValidation)
	}

	endpoint := &domain.Endpoint{
		ID:         uuid.NewString(),
		UserID:     strings.TrimSpace(userID),
		Channel:    ch,
		Address:    strings.TrimSpace(address),
		Platform:   strings.ToLower(strings.TrimSpace(platform)),
		IsActive:   true,
		LastSeenAt: s.now().UTC(),
	}
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	if err := s.endpoints.Upsert(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to upsert endpoint: %w", err)
	}

	return endpoint, nil
}

// Remove deactivates one endpoint by address.
func (s *EndpointService) Remove(ctx context.Context, ch domain.Channel, address string) error {
	if !ch.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, ch)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: endpoint address is required", domain.ErrValidation)
	}

	return s.endpoints.DeactivateByAddress(ctx, ch, address)
}

// Active lists a user's active endpoints on one channel.
func (s *EndpointService) Active(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if !ch.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, ch)
	}

	return s.endpoints.GetActive(ctx, userID, ch)
}

// Touch refreshes the endpoint's last-seen timestamp, called when a
// client checks in with an existing token.
func (s *EndpointService) Touch(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: endpoint id is required", domain.ErrValidation)
	}
	return s.endpoints.TouchLastSeen(ctx, id, s.now().UTC())
}
