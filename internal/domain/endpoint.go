package domain

import (
	"fmt"
	"strings"
	"time"
)

// Endpoint is one addressable delivery target owned by a user: a push
// token, an email address, a phone number, or a realtime user key. One
// active row per (user, channel, address); replaced on refresh and
// deactivated when a provider reports the address invalid.
type Endpoint struct {
	ID         string
	UserID     string
	Channel    Channel
	Address    string
	Platform   string
	IsActive   bool
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e *Endpoint) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: endpoint is required", ErrValidation)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: endpoint user id is required", ErrValidation)
	}
	if !e.Channel.IsValid() {
		return fmt.Errorf("%w: invalid endpoint channel %q", ErrValidation, e.Channel)
	}
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("%w: endpoint address is required", ErrValidation)
	}
	return nil
}

// RealtimeEndpoint returns the implicit endpoint every user has on the
// realtime channel: the hub addresses connections by user key, so no
// registry row is needed.
func RealtimeEndpoint(userID string) Endpoint {
	return Endpoint{
		UserID:   userID,
		Channel:  ChannelRealtime,
		Address:  userID,
		IsActive: true,
	}
}
