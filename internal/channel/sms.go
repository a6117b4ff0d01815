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

const defaultSMSTimeout = 10 * time.Second

type smsRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SMSAdapter sends text messages through an HTTP SMS gateway. Bodies are
// truncated to the single-segment limit; the title is folded in since
// SMS has no subject line.
type SMSAdapter struct {
	client   *resty.Client
	endpoint string
}

func NewSMSAdapter(endpoint string) (*SMSAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)

	return NewSMSAdapterWithClient(endpoint, client)
}

func NewSMSAdapterWithClient(endpoint string, client *resty.Client) (*SMSAdapter, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("sms gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sms gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &SMSAdapter{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (a *SMSAdapter) Channel() domain.Channel {
	return domain.ChannelSMS
}

func (a *SMSAdapter) Deliver(ctx context.Context, endpoint domain.Endpoint, payload Payload) DeliveryOutcome {
	if a == nil || a.client == nil {
		return failedOutcome(domain.ErrorKindUnknown, "sms adapter is not initialized")
	}
	if strings.TrimSpace(endpoint.Address) == "" {
		return failedOutcome(domain.ErrorKindInvalidEndpoint, "empty phone number")
	}

	text := smsText(payload.Title, payload.Body)

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsRequest{To: endpoint.Address, Text: text}).
		Post(a.endpoint)
	if err != nil {
		return failedOutcome(classifyTransportError(err), err.Error())
	}
	if response == nil {
		return failedOutcome(domain.ErrorKindProviderUnavailable, "sms gateway returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return sentOutcome(providerMessageID(response))
	}

	return failedOutcome(classifyHTTPStatus(statusCode), httpFailureMessage(statusCode, response.String()))
}

func smsText(title, body string) string {
	text := strings.TrimSpace(title)
	if text == "" {
		text = body
	} else if body != "" {
		text = text + ": " + body
	}

	runes := []rune(text)
	if len(runes) > domain.MaxSMSBody {
		text = string(runes[:domain.MaxSMSBody])
	}
	return text
}
