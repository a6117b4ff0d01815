package domain

import (
	"fmt"
	"strings"
)

// Category classifies an alert event and drives escalation.
type Category string

const (
	CategoryUrgentMissing      Category = "URGENT_MISSING"
	CategorySpecialNeedsUrgent Category = "SPECIAL_NEEDS_URGENT"
	CategoryMedicalEmergency   Category = "MEDICAL_EMERGENCY"
	CategorySightingReport     Category = "SIGHTING_REPORT"
	CategoryCaseFound          Category = "CASE_FOUND"
	CategoryRoutineUpdate      Category = "ROUTINE_UPDATE"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryUrgentMissing, CategorySpecialNeedsUrgent, CategoryMedicalEmergency,
		CategorySightingReport, CategoryCaseFound, CategoryRoutineUpdate:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

// Priority represents the alert priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSBody   = 160
	MaxPushBody  = 240
	MaxTitle     = 200
	MaxAlertBody = 10000
)

// AlertEvent is the immutable input to the fanout dispatcher. Events are
// never persisted directly; they are consumed to produce delivery records.
type AlertEvent struct {
	ID                 string
	IdempotencyKey     string
	Category           Category
	Priority           Priority
	Title              string
	Body               string
	CaseID             string
	RelatedUserID      string
	ExplicitRecipients []string
	Latitude           *float64
	Longitude          *float64
	RadiusKm           *float64
	Data               map[string]string
}

func (e *AlertEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is required", ErrValidation)
	}
	if !e.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, e.Category)
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, e.Priority)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len([]rune(e.Title)) > MaxTitle {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitle)
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if len([]rune(e.Body)) > MaxAlertBody {
		return fmt.Errorf("%w: body exceeds %d characters", ErrValidation, MaxAlertBody)
	}
	if (e.Latitude == nil) != (e.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrValidation)
	}
	if e.RadiusKm != nil && *e.RadiusKm <= 0 {
		return fmt.Errorf("%w: radius must be positive", ErrValidation)
	}
	return nil
}

// CaseTopicOrEmpty returns the case topic for the event, or "" when the
// event is not scoped to a case.
func (e *AlertEvent) CaseTopicOrEmpty() string {
	if strings.TrimSpace(e.CaseID) == "" {
		return ""
	}
	return CaseTopic(e.CaseID)
}
