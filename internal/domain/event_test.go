package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCategoryFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseCategoryFromString(" urgent_missing ")
	if err != nil {
		t.Fatalf("ParseCategoryFromString() unexpected error = %v", err)
	}
	if got != CategoryUrgentMissing {
		t.Fatalf("ParseCategoryFromString() = %s, want %s", got, CategoryUrgentMissing)
	}

	_, err = ParseCategoryFromString("weather_warning")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseCategoryFromString() error = %v, want ErrValidation", err)
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseChannelFromString(" sms ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
	}
	if got != ChannelSMS {
		t.Fatalf("ParseChannelFromString() = %s, want %s", got, ChannelSMS)
	}

	_, err = ParseChannelFromString("fax")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
	}
}

func TestAlertEventValidate(t *testing.T) {
	t.Parallel()

	lat, lon := 29.7604, -95.3698
	base := AlertEvent{
		Category: CategoryUrgentMissing,
		Priority: PriorityHigh,
		Title:    "Missing runner near Buffalo Bayou",
		Body:     "Last seen heading east on the trail at 6:40 AM.",
		CaseID:   "42",
	}

	tests := []struct {
		name    string
		mutate  func(*AlertEvent)
		wantErr bool
	}{
		{name: "valid event", mutate: func(e *AlertEvent) {}},
		{name: "valid with coordinates", mutate: func(e *AlertEvent) {
			e.Latitude = &lat
			e.Longitude = &lon
		}},
		{name: "missing category", mutate: func(e *AlertEvent) { e.Category = "" }, wantErr: true},
		{name: "missing priority", mutate: func(e *AlertEvent) { e.Priority = "" }, wantErr: true},
		{name: "missing title", mutate: func(e *AlertEvent) { e.Title = "  " }, wantErr: true},
		{name: "missing body", mutate: func(e *AlertEvent) { e.Body = "" }, wantErr: true},
		{name: "oversized body", mutate: func(e *AlertEvent) {
			e.Body = strings.Repeat("x", MaxAlertBody+1)
		}, wantErr: true},
		{name: "latitude without longitude", mutate: func(e *AlertEvent) {
			e.Latitude = &lat
		}, wantErr: true},
		{name: "non positive radius", mutate: func(e *AlertEvent) {
			zero := 0.0
			e.RadiusKm = &zero
		}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event := base
			tt.mutate(&event)

			err := event.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestCaseTopicOrEmpty(t *testing.T) {
	t.Parallel()

	event := AlertEvent{CaseID: "100"}
	if got := event.CaseTopicOrEmpty(); got != "case:100" {
		t.Fatalf("CaseTopicOrEmpty() = %q, want case:100", got)
	}

	event.CaseID = " "
	if got := event.CaseTopicOrEmpty(); got != "" {
		t.Fatalf("CaseTopicOrEmpty() = %q, want empty", got)
	}
}
