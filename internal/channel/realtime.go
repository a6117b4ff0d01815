package channel

import (
	"context"
	"fmt"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/realtime"
)

// Broadcaster is the hub surface the realtime adapter needs.
type Broadcaster interface {
	BroadcastToUser(userID string, message realtime.Message) int
}

// RealtimeAdapter pushes alerts to a user's live websocket connections.
// An offline user still counts as sent; the durable channels carry the
// alert to them instead.
type RealtimeAdapter struct {
	hub Broadcaster
}

func NewRealtimeAdapter(hub Broadcaster) (*RealtimeAdapter, error) {
	if hub == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	return &RealtimeAdapter{hub: hub}, nil
}

func (a *RealtimeAdapter) Channel() domain.Channel {
	return domain.ChannelRealtime
}

func (a *RealtimeAdapter) Deliver(ctx context.Context, endpoint domain.Endpoint, payload Payload) DeliveryOutcome {
	if a == nil || a.hub == nil {
		return failedOutcome(domain.ErrorKindUnknown, "realtime adapter is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return failedOutcome(domain.ErrorKindProviderUnavailable, err.Error())
	}

	message := realtime.Message{
		Topic: payload.Topic,
		Event: "alert",
		Data: map[string]any{
			"eventId":  payload.EventID,
			"category": payload.Category.String(),
			"priority": payload.Priority.String(),
			"title":    payload.Title,
			"body":     payload.Body,
			"data":     payload.Data,
		},
	}

	reached := a.hub.BroadcastToUser(endpoint.UserID, message)
	return DeliveryOutcome{
		Success:           true,
		ProviderMessageID: fmt.Sprintf("connections:%d", reached),
	}
}
