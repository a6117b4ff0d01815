package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"gopkg.in/gomail.v2"
)

// EmailSender is the narrow SMTP surface the adapter needs, satisfied by
// *gomail.Dialer.
type EmailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailAdapter sends alert emails over SMTP. HTML templating lives with
// the caller-facing mailer service; the adapter only wraps the generic
// title/body payload.
type EmailAdapter struct {
	sender EmailSender
	from   string
}

func NewEmailAdapter(host string, port int, username, password, from string) (*EmailAdapter, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port <= 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	dialer := gomail.NewDialer(host, port, username, password)
	return NewEmailAdapterWithSender(dialer, from)
}

func NewEmailAdapterWithSender(sender EmailSender, from string) (*EmailAdapter, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	return &EmailAdapter{sender: sender, from: from}, nil
}

func (a *EmailAdapter) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (a *EmailAdapter) Deliver(ctx context.Context, endpoint domain.Endpoint, payload Payload) DeliveryOutcome {
	if a == nil || a.sender == nil {
		return failedOutcome(domain.ErrorKindUnknown, "email adapter is not initialized")
	}

	address := strings.TrimSpace(endpoint.Address)
	if address == "" {
		return failedOutcome(domain.ErrorKindInvalidEndpoint, "empty email address")
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return failedOutcome(domain.ErrorKindInvalidEndpoint, fmt.Sprintf("unparseable email address: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return failedOutcome(domain.ErrorKindProviderUnavailable, err.Error())
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", a.from)
	msg.SetHeader("To", address)
	msg.SetHeader("Subject", payload.Title)
	msg.SetBody("text/plain", payload.Body)
	if payload.EventID != "" {
		msg.SetHeader("X-Alert-Event", payload.EventID)
	}

	if err := a.sender.DialAndSend(msg); err != nil {
		return failedOutcome(classifySMTPError(err), err.Error())
	}

	return sentOutcome("")
}

// classifySMTPError maps SMTP reply codes onto the taxonomy: 5xx mailbox
// rejections are dead endpoints, 4xx replies and transport faults are
// transient.
func classifySMTPError(err error) domain.ErrorKind {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 550 || protoErr.Code == 551 || protoErr.Code == 553:
			return domain.ErrorKindInvalidEndpoint
		case protoErr.Code == 421 || protoErr.Code == 450 || protoErr.Code == 452:
			return domain.ErrorKindProviderUnavailable
		case protoErr.Code == 451:
			return domain.ErrorKindRateLimited
		case protoErr.Code >= 500:
			return domain.ErrorKindUnknown
		default:
			return domain.ErrorKindProviderUnavailable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindProviderUnavailable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrorKindProviderUnavailable
	}

	return domain.ErrorKindUnknown
}
