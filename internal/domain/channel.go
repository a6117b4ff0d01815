package domain

import (
	"fmt"
	"strings"
)

// Channel represents one delivery mechanism.
type Channel string

const (
	ChannelRealtime Channel = "REALTIME"
	ChannelPush     Channel = "PUSH"
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelRealtime, ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// AllChannels lists every supported channel in dispatch order.
func AllChannels() []Channel {
	return []Channel{ChannelRealtime, ChannelPush, ChannelEmail, ChannelSMS}
}

// ErrorKind classifies a delivery failure reported by a channel provider.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindInvalidEndpoint     ErrorKind = "INVALID_ENDPOINT"
	ErrorKindRateLimited         ErrorKind = "RATE_LIMITED"
	ErrorKindProviderUnavailable ErrorKind = "PROVIDER_UNAVAILABLE"
	ErrorKindUnknown             ErrorKind = "UNKNOWN"
)

func (k ErrorKind) String() string { return string(k) }

// Retryable reports whether a failure of this kind should be retried.
// Invalid endpoints are permanent and unknown failures are only surfaced
// in statistics, never replayed.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindRateLimited || k == ErrorKindProviderUnavailable
}
