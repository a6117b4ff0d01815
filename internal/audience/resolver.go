// Package audience turns an event's scope into a concrete recipient set:
// topic subscribers, role-group members, geo-radius subscribers, and
// explicit recipient lists, unioned and deduplicated.
package audience

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dekuworks/runner-alerts/internal/directory"
	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/escalation"
	"github.com/dekuworks/runner-alerts/internal/repository"
)

// DefaultRadiusKm is the system-wide geo-alert radius (about 5 miles)
// used when neither the user nor the event overrides it.
const DefaultRadiusKm = 8.0

// Audience is a deduplicated recipient set with topic provenance: for
// each user, the topics whose subscription brought them in, so delivery
// bookkeeping can be written back to the right rows.
type Audience struct {
	userIDs      []string
	topicsByUser map[string]map[string]struct{}
}

// NewAudience returns an empty audience.
func NewAudience() *Audience {
	return &Audience{topicsByUser: make(map[string]map[string]struct{})}
}

// Add records a recipient, optionally attributing the topic that
// contributed them. Duplicate users accumulate topics.
func (a *Audience) Add(userID, topic string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	if _, seen := a.topicsByUser[userID]; !seen {
		a.topicsByUser[userID] = make(map[string]struct{})
		a.userIDs = append(a.userIDs, userID)
	}
	if topic != "" {
		a.topicsByUser[userID][topic] = struct{}{}
	}
}

// UserIDs returns the recipients in first-seen order, without duplicates.
func (a *Audience) UserIDs() []string {
	return a.userIDs
}

// TopicsFor returns the subscription topics that contributed a user.
func (a *Audience) TopicsFor(userID string) []string {
	topics := make([]string, 0, len(a.topicsByUser[userID]))
	for topic := range a.topicsByUser[userID] {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (a *Audience) Contains(userID string) bool {
	_, ok := a.topicsByUser[userID]
	return ok
}

func (a *Audience) Len() int {
	return len(a.userIDs)
}

// Resolver computes recipient sets from subscriptions and the user
// directory.
type Resolver struct {
	subscriptions   repository.SubscriptionRepository
	directory       directory.Directory
	defaultRadiusKm float64
	logger          *zap.Logger
}

func NewResolver(
	subscriptions repository.SubscriptionRepository,
	dir directory.Directory,
	defaultRadiusKm float64,
	logger *zap.Logger,
) *Resolver {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = DefaultRadiusKm
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		subscriptions:   subscriptions,
		directory:       dir,
		defaultRadiusKm: defaultRadiusKm,
		logger:          logger,
	}
}

// Resolve unions every audience source in the plan, then extends the set
// with the event's explicit recipients. A failed source degrades to
// empty so the remaining sources still receive the alert.
func (r *Resolver) Resolve(ctx context.Context, sources []escalation.AudienceSource, event *domain.AlertEvent) *Audience {
	audience := NewAudience()

	for _, source := range sources {
		switch source.Kind {
		case escalation.SourceCaseTopic:
			topic := event.CaseTopicOrEmpty()
			if topic == "" {
				continue
			}
			r.mergeTopic(ctx, audience, topic)

		case escalation.SourceTopic:
			r.mergeTopic(ctx, audience, source.Topic)

		case escalation.SourceRole:
			r.mergeRole(ctx, audience, source.Role)

		case escalation.SourceRadius:
			if event.Latitude == nil || event.Longitude == nil {
				continue
			}
			r.mergeRadius(ctx, audience, *event.Latitude, *event.Longitude, event.RadiusKm)

		default:
			r.logger.Warn("unknown audience source kind", zap.String("kind", string(source.Kind)))
		}
	}

	for _, userID := range event.ExplicitRecipients {
		audience.Add(userID, "")
	}

	return audience
}

// ResolveTopic returns the deduplicated active subscribers of a topic.
func (r *Resolver) ResolveTopic(ctx context.Context, topic string) ([]string, error) {
	if err := domain.ValidateTopic(topic); err != nil {
		return nil, err
	}
	return r.subscriptions.SubscribersOf(ctx, topic)
}

// ResolveRole returns the members of a role group from the directory.
func (r *Resolver) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return r.directory.UsersByRole(ctx, role)
}

// ResolveRadius returns users whose stored location falls within the
// effective radius of the origin. Precedence per user: their own
// AlertRadiusKm override, then the event radius, then the system default.
func (r *Resolver) ResolveRadius(ctx context.Context, lat, lon float64, eventRadiusKm *float64) ([]string, error) {
	locations, err := r.directory.UserLocations(ctx)
	if err != nil {
		return nil, err
	}

	fallback := r.defaultRadiusKm
	if eventRadiusKm != nil && *eventRadiusKm > 0 {
		fallback = *eventRadiusKm
	}

	var userIDs []string
	for _, loc := range locations {
		radius := fallback
		if loc.AlertRadiusKm != nil && *loc.AlertRadiusKm > 0 {
			radius = *loc.AlertRadiusKm
		}
		if HaversineKm(lat, lon, loc.Latitude, loc.Longitude) <= radius {
			userIDs = append(userIDs, loc.UserID)
		}
	}

	return userIDs, nil
}

func (r *Resolver) mergeTopic(ctx context.Context, audience *Audience, topic string) {
	userIDs, err := r.ResolveTopic(ctx, topic)
	if err != nil {
		r.logger.Warn("topic audience degraded to empty",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	for _, userID := range userIDs {
		audience.Add(userID, topic)
	}
}

func (r *Resolver) mergeRole(ctx context.Context, audience *Audience, role string) {
	userIDs, err := r.ResolveRole(ctx, role)
	if err != nil {
		r.logger.Warn("role audience degraded to empty",
			zap.String("role", role),
			zap.Error(err),
		)
		return
	}
	for _, userID := range userIDs {
		audience.Add(userID, "")
	}
}

func (r *Resolver) mergeRadius(ctx context.Context, audience *Audience, lat, lon float64, eventRadiusKm *float64) {
	userIDs, err := r.ResolveRadius(ctx, lat, lon, eventRadiusKm)
	if err != nil {
		r.logger.Warn("radius audience degraded to empty", zap.Error(err))
		return
	}
	for _, userID := range userIDs {
		audience.Add(userID, "")
	}
}
