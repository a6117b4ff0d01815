package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dekuworks/runner-alerts/internal/audience"
	"github.com/dekuworks/runner-alerts/internal/channel"
	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/escalation"
	"github.com/dekuworks/runner-alerts/internal/observability"
	"github.com/dekuworks/runner-alerts/internal/ratelimit"
	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	minFanoutWorkers       = 1
	defaultFanoutWorkers   = 8
	defaultDeliveryTimeout = 5 * time.Second
	defaultMaxRetries      = 3
	defaultRecordTTL       = 24 * time.Hour
	baseRetryDelay         = 30 * time.Second
	maxRetryDelay          = 15 * time.Minute
	maxRetryJitterMillis   = 1000
)

// AudienceResolver computes the recipient set for a dispatch plan.
type AudienceResolver interface {
	Resolve(ctx context.Context, sources []escalation.AudienceSource, event *domain.AlertEvent) *audience.Audience
}

// ChannelOutcome aggregates per-channel delivery results for one event.
type ChannelOutcome struct {
	Sent     int
	Retrying int
	Failed   int
	Skipped  int
}

// FanoutResult summarizes one dispatched event.
type FanoutResult struct {
	EventID      string
	AudienceSize int
	Duplicates   int
	Counts       map[domain.Channel]ChannelOutcome
}

// FanoutService turns one alert event into per-recipient, per-channel
// delivery records and drives them to a terminal or retryable state.
type FanoutService struct {
	policy        *escalation.Policy
	resolver      AudienceResolver
	deliveries    repository.DeliveryRepository
	subscriptions repository.SubscriptionRepository
	endpoints     repository.EndpointRepository
	adapters      channel.Registry
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics

	workersPerChannel int
	deliveryTimeout   time.Duration
	maxRetries        int
	recordTTL         time.Duration
	now               func() time.Time
	randIntn          func(n int) int
}

// FanoutOptions tunes dispatch behavior; zero values select defaults.
type FanoutOptions struct {
	WorkersPerChannel int
	DeliveryTimeout   time.Duration
	MaxRetries        int
	RecordTTL         time.Duration
}

func NewFanoutService(
	policy *escalation.Policy,
	resolver AudienceResolver,
	deliveries repository.DeliveryRepository,
	subscriptions repository.SubscriptionRepository,
	endpoints repository.EndpointRepository,
	adapters channel.Registry,
	rateLimiter ratelimit.RateLimiter,
	opts FanoutOptions,
	logger *zap.Logger,
) (*FanoutService, error) {
	if policy == nil {
		return nil, fmt.Errorf("escalation policy is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("audience resolver is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint repository is required")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("at least one channel adapter is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.WorkersPerChannel < minFanoutWorkers {
		opts.WorkersPerChannel = defaultFanoutWorkers
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = defaultRecordTTL
	}

	return &FanoutService{
		policy:            policy,
		resolver:          resolver,
		deliveries:        deliveries,
		subscriptions:     subscriptions,
		endpoints:         endpoints,
		adapters:          adapters,
		rateLimiter:       rateLimiter,
		logger:            logger,
		workersPerChannel: opts.WorkersPerChannel,
		deliveryTimeout:   opts.DeliveryTimeout,
		maxRetries:        opts.MaxRetries,
		recordTTL:         opts.RecordTTL,
		now:               time.Now,
		randIntn:          rand.Intn,
	}, nil
}

func (s *FanoutService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

type deliveryItem struct {
	record   *domain.DeliveryRecord
	endpoint domain.Endpoint
}

// Dispatch fans one event out to its resolved audience. Individual
// delivery failures never fail the dispatch; they end up as FAILED or
// RETRYING rows instead.
func (s *FanoutService) Dispatch(ctx context.Context, event *domain.AlertEvent) (*FanoutResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareEventForDispatch(event); err != nil {
		return nil, err
	}

	plan, err := s.policy.Plan(event.Category, event)
	if err != nil {
		return nil, err
	}

	resolved := s.resolver.Resolve(ctx, plan.Sources, event)

	if s.metrics != nil {
		s.metrics.IncAlertDispatched(event.Category.String())
		s.metrics.ObserveFanoutAudienceSize(event.Category.String(), resolved.Len())
	}

	result := &FanoutResult{
		EventID:      event.ID,
		AudienceSize: resolved.Len(),
		Counts:       make(map[domain.Channel]ChannelOutcome, len(plan.Channels)),
	}

	seen, err := s.priorDeliveries(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	items, skipped := s.buildItems(ctx, plan, resolved, event, seen, result)

	var mu sync.Mutex
	g, groupCtx := errgroup.WithContext(ctx)
	for _, ch := range plan.Channels {
		ch := ch
		channelItems := items[ch]

		g.Go(func() error {
			outcome := s.dispatchChannel(groupCtx, ch, channelItems)
			outcome.Skipped += skipped[ch]

			mu.Lock()
			result.Counts[ch] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.logger.Info("alert dispatched",
		zap.String("eventId", event.ID),
		zap.String("category", event.Category.String()),
		zap.Int("audience", result.AudienceSize),
		zap.Int("duplicates", result.Duplicates),
	)

	return result, nil
}

// buildItems creates one PENDING record per (recipient, channel) pair
// that has a deliverable endpoint and no prior record under the same
// idempotency key.
func (s *FanoutService) buildItems(
	ctx context.Context,
	plan escalation.DispatchPlan,
	resolved *audience.Audience,
	event *domain.AlertEvent,
	seen map[string]struct{},
	result *FanoutResult,
) (map[domain.Channel][]deliveryItem, map[domain.Channel]int) {
	items := make(map[domain.Channel][]deliveryItem, len(plan.Channels))
	skipped := make(map[domain.Channel]int, len(plan.Channels))
	expiresAt := s.now().UTC().Add(s.recordTTL)

	var batch []*domain.DeliveryRecord

	for _, ch := range plan.Channels {
		for _, userID := range resolved.UserIDs() {
			if _, dup := seen[deliveryKey(userID, ch)]; dup {
				result.Duplicates++
				continue
			}

			endpoint, ok := s.endpointFor(ctx, userID, ch)
			if !ok {
				skipped[ch]++
				continue
			}

			record := &domain.DeliveryRecord{
				ID:              uuid.NewString(),
				EventID:         event.ID,
				IdempotencyKey:  event.IdempotencyKey,
				RecipientUserID: userID,
				Channel:         ch,
				EndpointAddress: endpoint.Address,
				Category:        event.Category,
				Priority:        event.Priority,
				Topic:           firstTopic(resolved.TopicsFor(userID)),
				Title:           event.Title,
				Body:            event.Body,
				Data:            event.Data,
				Status:          domain.DeliveryStatusPending,
				ExpiresAt:       &expiresAt,
			}

			batch = append(batch, record)
			items[ch] = append(items[ch], deliveryItem{record: record, endpoint: endpoint})
		}
	}

	if len(batch) == 0 {
		return items, skipped
	}

	// One insert for the whole batch. A failure, usually a concurrent
	// dispatch of the same event racing on the idempotency index, falls
	// back to per-record inserts to sort out which rows already exist.
	batchErr := s.deliveries.CreateBatch(ctx, batch)
	if batchErr == nil {
		return items, skipped
	}
	s.logger.Warn("batch insert of delivery records failed",
		zap.String("eventId", event.ID),
		zap.Int("records", len(batch)),
		zap.Error(batchErr),
	)

	for _, ch := range plan.Channels {
		kept := items[ch][:0]
		for _, item := range items[ch] {
			if err := s.deliveries.Create(ctx, item.record); err != nil {
				if isUniqueViolationError(err) {
					result.Duplicates++
					continue
				}
				s.logger.Error("failed to create delivery record",
					zap.String("eventId", event.ID),
					zap.String("userId", item.record.RecipientUserID),
					zap.String("channel", ch.String()),
					zap.Error(err),
				)
				skipped[ch]++
				continue
			}
			kept = append(kept, item)
		}
		items[ch] = kept
	}

	return items, skipped
}

func (s *FanoutService) endpointFor(ctx context.Context, userID string, ch domain.Channel) (domain.Endpoint, bool) {
	if ch == domain.ChannelRealtime {
		return domain.RealtimeEndpoint(userID), true
	}

	active, err := s.endpoints.GetActive(ctx, userID, ch)
	if err != nil {
		s.logger.Warn("failed to load endpoints",
			zap.String("userId", userID),
			zap.String("channel", ch.String()),
			zap.Error(err),
		)
		return domain.Endpoint{}, false
	}
	if len(active) == 0 {
		return domain.Endpoint{}, false
	}
	return active[0], true
}

func (s *FanoutService) dispatchChannel(ctx context.Context, ch domain.Channel, items []deliveryItem) ChannelOutcome {
	var (
		mu      sync.Mutex
		outcome ChannelOutcome
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workersPerChannel)

	for i := range items {
		item := items[i]
		g.Go(func() error {
			state := s.deliverRecord(groupCtx, item.record, item.endpoint)

			mu.Lock()
			switch state {
			case deliveryStateSent:
				outcome.Sent++
			case deliveryStateRetrying:
				outcome.Retrying++
			case deliveryStateSkipped:
				outcome.Skipped++
			default:
				outcome.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return outcome
}

type deliveryState int

const (
	deliveryStateFailed deliveryState = iota
	deliveryStateSent
	deliveryStateRetrying
	deliveryStateSkipped
)

// deliverRecord drives one record through claim, rate limit, provider
// call, and outcome bookkeeping.
func (s *FanoutService) deliverRecord(ctx context.Context, record *domain.DeliveryRecord, endpoint domain.Endpoint) deliveryState {
	claimed, err := s.deliveries.ClaimForDispatch(ctx, record.ID)
	if err != nil {
		s.logger.Error("failed to claim delivery",
			zap.String("deliveryId", record.ID),
			zap.Error(err),
		)
		return deliveryStateFailed
	}
	if !claimed {
		// Another dispatcher owns the record.
		return deliveryStateSkipped
	}

	channelName := strings.ToLower(record.Channel.String())
	if s.metrics != nil {
		s.metrics.IncDispatchInFlight(channelName)
		defer s.metrics.DecDispatchInFlight(channelName)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return s.handleFailure(ctx, record, channel.DeliveryOutcome{
			ErrorKind:    domain.ErrorKindProviderUnavailable,
			ErrorMessage: fmt.Sprintf("rate limiter wait failed: %v", err),
		})
	}

	adapter, ok := s.adapters.Adapter(record.Channel)
	if !ok {
		return s.handleFailure(ctx, record, channel.DeliveryOutcome{
			ErrorKind:    domain.ErrorKindUnknown,
			ErrorMessage: fmt.Sprintf("no adapter registered for channel %s", record.Channel),
		})
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	start := s.now()
	result := adapter.Deliver(deliverCtx, endpoint, payloadFromRecord(record))
	if s.metrics != nil {
		s.metrics.ObserveDeliveryDuration(channelName, s.now().Sub(start))
	}

	if result.Success {
		return s.handleSuccess(ctx, record, result)
	}
	return s.handleFailure(ctx, record, result)
}

func (s *FanoutService) handleSuccess(ctx context.Context, record *domain.DeliveryRecord, result channel.DeliveryOutcome) deliveryState {
	sentAt := s.now().UTC()
	if err := s.deliveries.MarkSent(ctx, record.ID, result.ProviderMessageID, sentAt); err != nil {
		s.logger.Error("failed to mark delivery sent",
			zap.String("deliveryId", record.ID),
			zap.Error(err),
		)
		return deliveryStateFailed
	}

	if s.metrics != nil {
		s.metrics.IncDeliverySent(record.Channel.String())
	}

	if record.Topic != "" {
		if err := s.subscriptions.RecordNotified(ctx, record.RecipientUserID, record.Topic, sentAt); err != nil {
			s.logger.Warn("failed to record subscription notification",
				zap.String("userId", record.RecipientUserID),
				zap.String("topic", record.Topic),
				zap.Error(err),
			)
		}
	}

	return deliveryStateSent
}

func (s *FanoutService) handleFailure(ctx context.Context, record *domain.DeliveryRecord, result channel.DeliveryOutcome) deliveryState {
	kind := result.ErrorKind
	if kind == domain.ErrorKindNone {
		kind = domain.ErrorKindUnknown
	}

	if kind == domain.ErrorKindInvalidEndpoint && record.Channel != domain.ChannelRealtime {
		if err := s.endpoints.DeactivateByAddress(ctx, record.Channel, record.EndpointAddress); err != nil {
			s.logger.Warn("failed to deactivate invalid endpoint",
				zap.String("channel", record.Channel.String()),
				zap.Error(err),
			)
		} else if s.metrics != nil {
			s.metrics.IncEndpointDeactivated(record.Channel.String())
		}
	}

	// MarkErrored bumps retry_count; the bumped count must stay under
	// the retry ceiling or the scanner would never surface the row, so
	// an exhausting failure lands terminal FAILED instead of RETRYING.
	now := s.now().UTC()
	retryable := kind.Retryable() && record.RetryCount+1 < s.maxRetries && !record.Expired(now)

	var nextRetryAt *time.Time
	if retryable {
		next := now.Add(s.computeRetryDelay(record.RetryCount + 1))
		nextRetryAt = &next
	}

	if err := s.deliveries.MarkErrored(ctx, record.ID, kind, result.ErrorMessage, nextRetryAt); err != nil {
		s.logger.Error("failed to mark delivery errored",
			zap.String("deliveryId", record.ID),
			zap.Error(err),
		)
		return deliveryStateFailed
	}

	if retryable {
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(record.Channel.String())
		}
		return deliveryStateRetrying
	}

	if s.metrics != nil {
		reason := "permanent_error"
		if kind.Retryable() {
			reason = "retry_exhausted"
		}
		s.metrics.IncDeliveryFailed(record.Channel.String(), reason)
	}

	return deliveryStateFailed
}

// Redeliver retries one previously errored record. The endpoint is
// rebuilt from the record so retries survive process restarts.
func (s *FanoutService) Redeliver(ctx context.Context, record *domain.DeliveryRecord) error {
	if record == nil {
		return fmt.Errorf("%w: delivery record is required", domain.ErrValidation)
	}

	// A channel retired from the category's escalation plan since the
	// record was created must not keep resending through retries.
	if plan, err := s.policy.Plan(record.Category, nil); err == nil && !plan.HasChannel(record.Channel) {
		if err := s.deliveries.MarkErrored(ctx, record.ID, record.ErrorKind, "channel no longer planned for category", nil); err != nil {
			return fmt.Errorf("failed to fail retired-channel delivery: %w", err)
		}
		s.logger.Warn("dropping retry for retired channel",
			zap.String("deliveryId", record.ID),
			zap.String("category", record.Category.String()),
			zap.String("channel", record.Channel.String()),
		)
		return nil
	}

	endpoint := domain.Endpoint{
		UserID:   record.RecipientUserID,
		Channel:  record.Channel,
		Address:  record.EndpointAddress,
		IsActive: true,
	}
	if record.Channel == domain.ChannelRealtime {
		endpoint = domain.RealtimeEndpoint(record.RecipientUserID)
	}

	s.deliverRecord(ctx, record, endpoint)
	return nil
}

func (s *FanoutService) priorDeliveries(ctx context.Context, idempotencyKey string) (map[string]struct{}, error) {
	existing, err := s.deliveries.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check prior deliveries: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for i := range existing {
		seen[deliveryKey(existing[i].RecipientUserID, existing[i].Channel)] = struct{}{}
	}
	return seen, nil
}

func (s *FanoutService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func prepareEventForDispatch(event *domain.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	event.IdempotencyKey = strings.TrimSpace(event.IdempotencyKey)
	if event.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}

	event.Title = strings.TrimSpace(event.Title)
	event.Body = strings.TrimSpace(event.Body)
	event.CaseID = strings.TrimSpace(event.CaseID)

	return event.Validate()
}

func payloadFromRecord(record *domain.DeliveryRecord) channel.Payload {
	return channel.Payload{
		EventID:  record.EventID,
		Category: record.Category,
		Priority: record.Priority,
		Topic:    record.Topic,
		Title:    record.Title,
		Body:     record.Body,
		Data:     record.Data,
	}
}

func deliveryKey(userID string, ch domain.Channel) string {
	return userID + "|" + ch.String()
}

func firstTopic(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	return topics[0]
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
