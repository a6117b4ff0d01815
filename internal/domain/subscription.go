package domain

import (
	"fmt"
	"strings"
	"time"
)

// Subscription reasons recorded when a row is created or reactivated.
const (
	SubscriptionReasonUserRequested  = "user_requested"
	SubscriptionReasonAutoSubscribed = "auto_subscribed"
	SubscriptionReasonRoleDefault    = "role_default"
)

// Subscription maps one user to one topic. Unique per (user, topic);
// unsubscribing clears IsSubscribed instead of deleting the row so a
// later re-subscribe reactivates the original record.
type Subscription struct {
	ID                     string
	UserID                 string
	Topic                  string
	IsSubscribed           bool
	Reason                 string
	NotificationCount      int
	LastNotificationSentAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *Subscription) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: subscription is required", ErrValidation)
	}
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: subscription user id is required", ErrValidation)
	}
	return ValidateTopic(s.Topic)
}

// DefaultTopicsForRole maps a role to the topics it is auto-subscribed
// to on provisioning. Unknown roles only join the org-wide topic.
func DefaultTopicsForRole(role string) []string {
	normalized := strings.ToLower(strings.TrimSpace(role))
	switch normalized {
	case "admin":
		return []string{TopicOrgAll, RoleTopic("admin")}
	case "law_enforcement":
		return []string{TopicOrgAll, RoleTopic("law_enforcement")}
	case "support_org":
		return []string{TopicOrgAll, RoleTopic("support_org")}
	default:
		return []string{TopicOrgAll}
	}
}
