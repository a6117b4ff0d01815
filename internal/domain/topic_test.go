package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{name: "org wide", topic: "org:all"},
		{name: "role segment", topic: "role:admin"},
		{name: "case with uuid", topic: "case:9b1c2f3a-0d4e-4f5a-8b6c-7d8e9f0a1b2c"},
		{name: "underscore and dash", topic: "role:law_enforcement-tx"},
		{name: "empty", topic: "", wantErr: true},
		{name: "too long", topic: strings.Repeat("a", MaxTopicLength+1), wantErr: true},
		{name: "whitespace", topic: "case 42", wantErr: true},
		{name: "leading separator", topic: ":admin", wantErr: true},
		{name: "trailing separator", topic: "case:", wantErr: true},
		{name: "empty segment", topic: "case::42", wantErr: true},
		{name: "disallowed punctuation", topic: "case:42;drop", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Fatalf("ValidateTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateTopic(%q) unexpected error = %v", tt.topic, err)
			}
		})
	}
}

func TestCaseTopic(t *testing.T) {
	t.Parallel()

	if got := CaseTopic("42"); got != "case:42" {
		t.Fatalf("CaseTopic(42) = %q, want case:42", got)
	}
	if got := RoleTopic("admin"); got != "role:admin" {
		t.Fatalf("RoleTopic(admin) = %q, want role:admin", got)
	}
}
