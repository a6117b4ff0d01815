package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultPushTimeout = 10 * time.Second

type pushRequest struct {
	Token    string            `json:"token"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority string            `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

// PushAdapter sends mobile push notifications through an HTTP push
// gateway. The gateway owns the platform-specific wire format.
type PushAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewPushAdapter(endpoint string) (*PushAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)

	return NewPushAdapterWithClient(endpoint, client)
}

func NewPushAdapterWithClient(endpoint string, client *resty.Client) (*PushAdapter, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0)

	return &PushAdapter{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (a *PushAdapter) Channel() domain.Channel {
	return domain.ChannelPush
}

func (a *PushAdapter) Deliver(ctx context.Context, endpoint domain.Endpoint, payload Payload) DeliveryOutcome {
	if a == nil || a.client == nil {
		return failedOutcome(domain.ErrorKindUnknown, "push adapter is not initialized")
	}
	if strings.TrimSpace(endpoint.Address) == "" {
		return failedOutcome(domain.ErrorKindInvalidEndpoint, "empty push token")
	}

	body := payload.Body
	if runes := []rune(body); len(runes) > domain.MaxPushBody {
		body = string(runes[:domain.MaxPushBody])
	}

	reqBody := pushRequest{
		Token:    endpoint.Address,
		Title:    payload.Title,
		Body:     body,
		Priority: strings.ToLower(payload.Priority.String()),
		Data:     payload.Data,
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(a.endpoint)
	if err != nil {
		return failedOutcome(classifyTransportError(err), err.Error())
	}
	if response == nil {
		return failedOutcome(domain.ErrorKindProviderUnavailable, "push gateway returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return sentOutcome(providerMessageID(response))
	}

	return failedOutcome(classifyHTTPStatus(statusCode), httpFailureMessage(statusCode, response.String()))
}
