// Package channel wraps each delivery mechanism behind a uniform
// adapter contract. Expected provider failures never surface as Go
// errors; adapters classify them into a small taxonomy carried on the
// outcome so the dispatcher can record, retry, or deactivate.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Payload is the channel-agnostic message content for one delivery.
type Payload struct {
	EventID  string
	Category domain.Category
	Priority domain.Priority
	Topic    string
	Title    string
	Body     string
	Data     map[string]string
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome struct {
	Success           bool
	ProviderMessageID string
	ErrorKind         domain.ErrorKind
	ErrorMessage      string
}

// Adapter delivers a payload to one endpoint over one channel.
type Adapter interface {
	Channel() domain.Channel
	Deliver(ctx context.Context, endpoint domain.Endpoint, payload Payload) DeliveryOutcome
}

// Registry maps channels to their adapters.
type Registry map[domain.Channel]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	registry := make(Registry, len(adapters))
	for _, adapter := range adapters {
		if adapter != nil {
			registry[adapter.Channel()] = adapter
		}
	}
	return registry
}

func (r Registry) Adapter(ch domain.Channel) (Adapter, bool) {
	adapter, ok := r[ch]
	return adapter, ok
}

func sentOutcome(providerMessageID string) DeliveryOutcome {
	return DeliveryOutcome{Success: true, ProviderMessageID: providerMessageID}
}

func failedOutcome(kind domain.ErrorKind, message string) DeliveryOutcome {
	if kind == domain.ErrorKindNone {
		kind = domain.ErrorKindUnknown
	}
	return DeliveryOutcome{ErrorKind: kind, ErrorMessage: message}
}

// classifyHTTPStatus maps a gateway response status to the error
// taxonomy. 404/410 mean the address itself is dead.
func classifyHTTPStatus(statusCode int) domain.ErrorKind {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return domain.ErrorKindInvalidEndpoint
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorKindRateLimited
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return domain.ErrorKindProviderUnavailable
	default:
		return domain.ErrorKindUnknown
	}
}

// classifyTransportError maps a failed HTTP round trip. Timeouts and
// refused connections are provider unavailability; a canceled context is
// passed through as unavailable so the caller's timeout envelope holds.
func classifyTransportError(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrorKindProviderUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorKindProviderUnavailable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrorKindProviderUnavailable
	}

	return domain.ErrorKindUnknown
}

func httpFailureMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	body = strings.TrimSpace(body)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
