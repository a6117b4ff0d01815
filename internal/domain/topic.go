package domain

import "fmt"

// MaxTopicLength is the longest accepted topic identifier.
const MaxTopicLength = 100

// Well-known topics and topic prefixes.
const (
	TopicOrgAll     = "org:all"
	TopicCasePrefix = "case:"
	TopicRolePrefix = "role:"
)

// CaseTopic returns the broadcast topic for a single case, e.g. case:42.
func CaseTopic(caseID string) string {
	return TopicCasePrefix + caseID
}

// RoleTopic returns the broadcast topic for a role group, e.g. role:admin.
func RoleTopic(role string) string {
	return TopicRolePrefix + role
}

// ValidateTopic checks a topic identifier against the allowed character
// set: ASCII letters, digits, '_', '-', and ':' as a segment separator.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidTopic)
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrInvalidTopic, MaxTopicLength)
	}
	if topic[0] == ':' || topic[len(topic)-1] == ':' {
		return fmt.Errorf("%w: topic %q has an empty segment", ErrInvalidTopic, topic)
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		case c == ':':
			if topic[i-1] == ':' {
				return fmt.Errorf("%w: topic %q has an empty segment", ErrInvalidTopic, topic)
			}
		default:
			return fmt.Errorf("%w: topic %q contains disallowed character %q", ErrInvalidTopic, topic, string(c))
		}
	}
	return nil
}
