// Package escalation maps alert categories to the channels and audience
// sources used to deliver them. The mapping is data, not dispatch logic:
// new categories are added to the table without touching the dispatcher.
package escalation

import (
	"fmt"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

// SourceKind identifies one way of resolving an audience.
type SourceKind string

const (
	SourceCaseTopic SourceKind = "CASE_TOPIC"
	SourceTopic     SourceKind = "TOPIC"
	SourceRole      SourceKind = "ROLE"
	SourceRadius    SourceKind = "RADIUS"
)

// AudienceSource is one entry in a dispatch plan's audience list. Topic
// is set for SourceTopic, Role for SourceRole; SourceCaseTopic and
// SourceRadius take their parameters from the event itself.
type AudienceSource struct {
	Kind  SourceKind
	Topic string
	Role  string
}

// DispatchPlan names the channels and audience sources for one event.
type DispatchPlan struct {
	Channels []domain.Channel
	Sources  []AudienceSource
}

// HasChannel reports whether the plan includes the given channel.
func (p DispatchPlan) HasChannel(ch domain.Channel) bool {
	for _, c := range p.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Policy resolves a category to its dispatch plan.
type Policy struct {
	table map[domain.Category]DispatchPlan
}

// NewPolicy returns a policy over the default escalation table.
func NewPolicy() *Policy {
	return NewPolicyWithTable(DefaultTable())
}

// NewPolicyWithTable builds a policy from a custom table, for deployments
// overriding the defaults.
func NewPolicyWithTable(table map[domain.Category]DispatchPlan) *Policy {
	copied := make(map[domain.Category]DispatchPlan, len(table))
	for category, plan := range table {
		copied[category] = plan
	}
	return &Policy{table: copied}
}

// Plan returns the dispatch plan for an event. It is a pure lookup; the
// event only supplies case scoping checked against plan feasibility.
func (p *Policy) Plan(category domain.Category, event *domain.AlertEvent) (DispatchPlan, error) {
	if !category.IsValid() {
		return DispatchPlan{}, fmt.Errorf("%w: invalid category %q", domain.ErrValidation, category)
	}

	plan, ok := p.table[category]
	if !ok {
		return DispatchPlan{}, fmt.Errorf("%w: no escalation plan for category %q", domain.ErrNotFound, category)
	}

	// Case-scoped and geo-scoped sources are dropped when the event
	// carries no case or coordinates, so the remaining sources still fire.
	if event != nil {
		plan.Sources = feasibleSources(plan.Sources, event)
	}

	return plan, nil
}

func feasibleSources(sources []AudienceSource, event *domain.AlertEvent) []AudienceSource {
	filtered := make([]AudienceSource, 0, len(sources))
	for _, source := range sources {
		switch source.Kind {
		case SourceCaseTopic:
			if event.CaseTopicOrEmpty() == "" {
				continue
			}
		case SourceRadius:
			if event.Latitude == nil || event.Longitude == nil {
				continue
			}
		}
		filtered = append(filtered, source)
	}
	return filtered
}

// DefaultTable is the stock category escalation mapping.
func DefaultTable() map[domain.Category]DispatchPlan {
	return map[domain.Category]DispatchPlan{
		domain.CategoryUrgentMissing: {
			Channels: []domain.Channel{domain.ChannelRealtime, domain.ChannelPush, domain.ChannelEmail, domain.ChannelSMS},
			Sources: []AudienceSource{
				{Kind: SourceCaseTopic},
				{Kind: SourceRole, Role: "admin"},
				{Kind: SourceRadius},
			},
		},
		domain.CategorySpecialNeedsUrgent: {
			Channels: []domain.Channel{domain.ChannelRealtime, domain.ChannelPush, domain.ChannelEmail, domain.ChannelSMS},
			Sources: []AudienceSource{
				{Kind: SourceCaseTopic},
				{Kind: SourceRole, Role: "admin"},
				{Kind: SourceRadius},
				{Kind: SourceRole, Role: "support_org"},
			},
		},
		domain.CategoryMedicalEmergency: {
			Channels: []domain.Channel{domain.ChannelPush, domain.ChannelEmail, domain.ChannelSMS},
			Sources: []AudienceSource{
				{Kind: SourceRole, Role: "medical_contact"},
				{Kind: SourceRole, Role: "admin"},
			},
		},
		domain.CategorySightingReport: {
			Channels: []domain.Channel{domain.ChannelRealtime, domain.ChannelEmail},
			Sources: []AudienceSource{
				{Kind: SourceRole, Role: "law_enforcement"},
				{Kind: SourceCaseTopic},
			},
		},
		domain.CategoryCaseFound: {
			Channels: []domain.Channel{domain.ChannelRealtime, domain.ChannelPush, domain.ChannelEmail},
			Sources: []AudienceSource{
				{Kind: SourceCaseTopic},
				{Kind: SourceRole, Role: "admin"},
			},
		},
		domain.CategoryRoutineUpdate: {
			Channels: []domain.Channel{domain.ChannelRealtime, domain.ChannelPush},
			Sources: []AudienceSource{
				{Kind: SourceCaseTopic},
			},
		},
	}
}
