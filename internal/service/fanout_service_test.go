package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dekuworks/runner-alerts/internal/audience"
	"github.com/dekuworks/runner-alerts/internal/channel"
	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/escalation"
	"go.uber.org/zap"
)

func routineEvent() *domain.AlertEvent {
	return &domain.AlertEvent{
		IdempotencyKey: "case-1:ROUTINE_UPDATE:1",
		Category:       domain.CategoryRoutineUpdate,
		Priority:       domain.PriorityLow,
		Title:          "Case update",
		Body:           "The case file was updated.",
		CaseID:         "case-1",
	}
}

func staticResolver(userTopics map[string]string) *fakeResolver {
	return &fakeResolver{
		resolveFn: func(ctx context.Context, sources []escalation.AudienceSource, event *domain.AlertEvent) *audience.Audience {
			resolved := audience.NewAudience()
			for userID, topic := range userTopics {
				resolved.Add(userID, topic)
			}
			return resolved
		},
	}
}

func newTestFanout(
	t *testing.T,
	deliveries *fakeDeliveryRepo,
	subscriptions *fakeSubscriptionRepo,
	endpoints *fakeEndpointRepo,
	resolver AudienceResolver,
	adapters ...channel.Adapter,
) *FanoutService {
	t.Helper()

	svc, err := NewFanoutService(
		escalation.NewPolicy(),
		resolver,
		deliveries,
		subscriptions,
		endpoints,
		channel.NewRegistry(adapters...),
		&fakeRateLimiter{},
		FanoutOptions{WorkersPerChannel: 2},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewFanoutService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	svc.randIntn = func(n int) int { return 0 }
	return svc
}

func TestFanoutDispatchHappyPath(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		created    []*domain.DeliveryRecord
		batchCalls int
		sent       []string
	)

	deliveries := &fakeDeliveryRepo{
		createBatchFn: func(ctx context.Context, records []*domain.DeliveryRecord) error {
			mu.Lock()
			defer mu.Unlock()
			batchCalls++
			created = append(created, records...)
			return nil
		},
		markSentFn: func(ctx context.Context, id, providerMsgID string, at time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, id)
			return nil
		},
	}

	notified := make(map[string]string)
	subscriptions := &fakeSubscriptionRepo{
		recordNotifiedFn: func(ctx context.Context, userID, topic string, at time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			notified[userID] = topic
			return nil
		},
	}

	// user-2 has no push endpoint; their push leg is skipped, not failed.
	endpoints := &fakeEndpointRepo{
		getActiveFn: func(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
			if userID == "user-1" && ch == domain.ChannelPush {
				return []domain.Endpoint{{ID: "e1", UserID: userID, Channel: ch, Address: "token-1", IsActive: true}}, nil
			}
			return nil, nil
		},
	}

	resolver := staticResolver(map[string]string{
		"user-1": "case:case-1",
		"user-2": "case:case-1",
	})

	svc := newTestFanout(t, deliveries, subscriptions, endpoints, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		&fakeAdapter{channel: domain.ChannelPush},
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.AudienceSize != 2 {
		t.Fatalf("audience size = %d, want 2", result.AudienceSize)
	}
	if len(created) != 3 {
		t.Fatalf("created records = %d, want 3 (2 realtime + 1 push)", len(created))
	}
	if batchCalls != 1 {
		t.Fatalf("batch inserts = %d, want one for the whole event", batchCalls)
	}
	if len(sent) != 3 {
		t.Fatalf("sent records = %d, want 3", len(sent))
	}

	realtime := result.Counts[domain.ChannelRealtime]
	if realtime.Sent != 2 {
		t.Fatalf("realtime sent = %d, want 2", realtime.Sent)
	}
	push := result.Counts[domain.ChannelPush]
	if push.Sent != 1 || push.Skipped != 1 {
		t.Fatalf("push = %+v, want Sent=1 Skipped=1", push)
	}

	if notified["user-1"] != "case:case-1" {
		t.Fatalf("subscription bookkeeping topic = %q, want case:case-1", notified["user-1"])
	}
}

func TestFanoutDispatchSkipsPriorDeliveries(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		created []*domain.DeliveryRecord
	)

	deliveries := &fakeDeliveryRepo{
		findByIdempotencyKeyFn: func(ctx context.Context, key string) ([]domain.DeliveryRecord, error) {
			return []domain.DeliveryRecord{
				{RecipientUserID: "user-1", Channel: domain.ChannelRealtime, Status: domain.DeliveryStatusSent},
			}, nil
		},
		createBatchFn: func(ctx context.Context, records []*domain.DeliveryRecord) error {
			mu.Lock()
			defer mu.Unlock()
			created = append(created, records...)
			return nil
		},
	}

	resolver := staticResolver(map[string]string{"user-1": "case:case-1"})
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		&fakeAdapter{channel: domain.ChannelPush},
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", result.Duplicates)
	}
	for _, r := range created {
		if r.RecipientUserID == "user-1" && r.Channel == domain.ChannelRealtime {
			t.Fatal("prior delivery should not be re-created")
		}
	}
}

func TestFanoutDispatchUniqueViolationCountsDuplicate(t *testing.T) {
	t.Parallel()

	// The batch insert fails on the idempotency index; the per-record
	// fallback then reports which row the concurrent dispatch already owns.
	deliveries := &fakeDeliveryRepo{
		createBatchFn: func(ctx context.Context, records []*domain.DeliveryRecord) error {
			return errors.New(`duplicate key value violates unique constraint "ux_deliveries_key_recipient_channel"`)
		},
		createFn: func(ctx context.Context, r *domain.DeliveryRecord) error {
			return errors.New(`duplicate key value violates unique constraint "ux_deliveries_key_recipient_channel"`)
		},
	}

	resolver := staticResolver(map[string]string{"user-1": ""})
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		&fakeAdapter{channel: domain.ChannelPush},
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", result.Duplicates)
	}
}

func TestFanoutDispatchInvalidEndpointDeactivates(t *testing.T) {
	t.Parallel()

	var (
		mu            sync.Mutex
		deactivated   []string
		erroredRetry  *time.Time
		erroredKind   domain.ErrorKind
		erroredCalled bool
	)

	deliveries := &fakeDeliveryRepo{
		markErroredFn: func(ctx context.Context, id string, kind domain.ErrorKind, message string, nextRetryAt *time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			erroredCalled = true
			erroredKind = kind
			erroredRetry = nextRetryAt
			return nil
		},
	}
	endpoints := &fakeEndpointRepo{
		getActiveFn: func(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
			return []domain.Endpoint{{ID: "e1", UserID: userID, Channel: ch, Address: "dead-token", IsActive: true}}, nil
		},
		deactivateByAddressFn: func(ctx context.Context, ch domain.Channel, address string) error {
			mu.Lock()
			defer mu.Unlock()
			deactivated = append(deactivated, address)
			return nil
		},
	}

	pushAdapter := &fakeAdapter{
		channel: domain.ChannelPush,
		deliverFn: func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
			return channel.DeliveryOutcome{ErrorKind: domain.ErrorKindInvalidEndpoint, ErrorMessage: "token not registered"}
		},
	}

	resolver := staticResolver(map[string]string{"user-1": ""})
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, endpoints, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		pushAdapter,
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !erroredCalled {
		t.Fatal("expected MarkErrored to be called")
	}
	if erroredKind != domain.ErrorKindInvalidEndpoint {
		t.Fatalf("error kind = %s, want INVALID_ENDPOINT", erroredKind)
	}
	if erroredRetry != nil {
		t.Fatal("invalid endpoint must not schedule a retry")
	}
	if len(deactivated) != 1 || deactivated[0] != "dead-token" {
		t.Fatalf("deactivated = %v, want [dead-token]", deactivated)
	}
	if result.Counts[domain.ChannelPush].Failed != 1 {
		t.Fatalf("push failed = %d, want 1", result.Counts[domain.ChannelPush].Failed)
	}
}

func TestFanoutDispatchTransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		nextRetryAt *time.Time
	)

	deliveries := &fakeDeliveryRepo{
		markErroredFn: func(ctx context.Context, id string, kind domain.ErrorKind, message string, at *time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			nextRetryAt = at
			return nil
		},
	}
	endpoints := &fakeEndpointRepo{
		getActiveFn: func(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
			return []domain.Endpoint{{ID: "e1", UserID: userID, Channel: ch, Address: "token-1", IsActive: true}}, nil
		},
	}

	pushAdapter := &fakeAdapter{
		channel: domain.ChannelPush,
		deliverFn: func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
			return channel.DeliveryOutcome{ErrorKind: domain.ErrorKindProviderUnavailable, ErrorMessage: "gateway timeout"}
		},
	}

	resolver := staticResolver(map[string]string{"user-1": ""})
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, endpoints, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		pushAdapter,
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if nextRetryAt == nil {
		t.Fatal("transient failure should schedule a retry")
	}
	wantRetry := svc.now().UTC().Add(baseRetryDelay)
	if !nextRetryAt.Equal(wantRetry) {
		t.Fatalf("next retry at = %v, want %v", nextRetryAt, wantRetry)
	}
	if result.Counts[domain.ChannelPush].Retrying != 1 {
		t.Fatalf("push retrying = %d, want 1", result.Counts[domain.ChannelPush].Retrying)
	}
}

func TestFanoutDispatchRecipientIsolation(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		sent   int
		failed int
	)

	deliveries := &fakeDeliveryRepo{
		markSentFn: func(ctx context.Context, id, providerMsgID string, at time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			sent++
			return nil
		},
		markErroredFn: func(ctx context.Context, id string, kind domain.ErrorKind, message string, at *time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			failed++
			return nil
		},
	}
	endpoints := &fakeEndpointRepo{
		getActiveFn: func(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
			return []domain.Endpoint{{ID: "e-" + userID, UserID: userID, Channel: ch, Address: "token-" + userID, IsActive: true}}, nil
		},
	}

	pushAdapter := &fakeAdapter{
		channel: domain.ChannelPush,
		deliverFn: func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
			if endpoint.UserID == "user-2" {
				return channel.DeliveryOutcome{ErrorKind: domain.ErrorKindUnknown, ErrorMessage: "malformed response"}
			}
			return channel.DeliveryOutcome{Success: true, ProviderMessageID: "msg-1"}
		},
	}

	resolver := staticResolver(map[string]string{"user-1": "", "user-2": ""})
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, endpoints, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		pushAdapter,
	)

	result, err := svc.Dispatch(context.Background(), routineEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	push := result.Counts[domain.ChannelPush]
	if push.Sent != 1 || push.Failed != 1 {
		t.Fatalf("push = %+v, want Sent=1 Failed=1", push)
	}
	// Unknown errors terminate without a retry.
	if result.Counts[domain.ChannelPush].Retrying != 0 {
		t.Fatal("unknown error must not schedule a retry")
	}
}

func TestFanoutDispatchRequiresIdempotencyKey(t *testing.T) {
	t.Parallel()

	resolver := staticResolver(nil)
	svc := newTestFanout(t, &fakeDeliveryRepo{}, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
		&fakeAdapter{channel: domain.ChannelPush},
	)

	event := routineEvent()
	event.IdempotencyKey = "  "

	_, err := svc.Dispatch(context.Background(), event)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Dispatch() error = %v, want ErrValidation", err)
	}
}

func TestFanoutRetryExhaustionFails(t *testing.T) {
	t.Parallel()

	var nextRetryAt *time.Time
	record := &domain.DeliveryRecord{
		ID:              "d1",
		EventID:         "evt-1",
		IdempotencyKey:  "k1",
		RecipientUserID: "user-1",
		Channel:         domain.ChannelSMS,
		EndpointAddress: "+16155550100",
		Category:        domain.CategoryUrgentMissing,
		Priority:        domain.PriorityHigh,
		Title:           "t",
		Body:            "b",
		Status:          domain.DeliveryStatusRetrying,
		RetryCount:      3,
	}

	deliveries := &fakeDeliveryRepo{
		markErroredFn: func(ctx context.Context, id string, kind domain.ErrorKind, message string, at *time.Time) error {
			nextRetryAt = at
			return nil
		},
	}

	smsAdapter := &fakeAdapter{
		channel: domain.ChannelSMS,
		deliverFn: func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
			return channel.DeliveryOutcome{ErrorKind: domain.ErrorKindProviderUnavailable, ErrorMessage: "still down"}
		},
	}

	resolver := staticResolver(nil)
	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, resolver, smsAdapter)

	if err := svc.Redeliver(context.Background(), record); err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if nextRetryAt != nil {
		t.Fatal("retry budget exhausted; no further retry should be scheduled")
	}
}

func TestFanoutRedeliverDropsRetiredChannel(t *testing.T) {
	t.Parallel()

	var (
		markedTerminal bool
		claimed        bool
	)

	deliveries := &fakeDeliveryRepo{
		markErroredFn: func(ctx context.Context, id string, kind domain.ErrorKind, message string, at *time.Time) error {
			if at == nil {
				markedTerminal = true
			}
			return nil
		},
		claimForDispatchFn: func(ctx context.Context, id string) (bool, error) {
			claimed = true
			return true, nil
		},
	}

	pushAdapter := &fakeAdapter{
		channel: domain.ChannelPush,
		deliverFn: func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
			t.Error("retired channel must not reach the provider")
			return channel.DeliveryOutcome{}
		},
	}

	svc := newTestFanout(t, deliveries, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, staticResolver(nil), pushAdapter)

	// Sighting reports route over realtime and email only; a leftover
	// push record from an older escalation table must fail terminally.
	record := &domain.DeliveryRecord{
		ID:              "d1",
		EventID:         "evt-1",
		IdempotencyKey:  "k1",
		RecipientUserID: "user-1",
		Channel:         domain.ChannelPush,
		EndpointAddress: "token-1",
		Category:        domain.CategorySightingReport,
		Priority:        domain.PriorityNormal,
		Title:           "t",
		Body:            "b",
		Status:          domain.DeliveryStatusRetrying,
		RetryCount:      1,
		ErrorKind:       domain.ErrorKindRateLimited,
	}

	if err := svc.Redeliver(context.Background(), record); err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if !markedTerminal {
		t.Fatal("retired-channel record should be marked terminally failed")
	}
	if claimed {
		t.Fatal("retired-channel record should not be claimed for dispatch")
	}
}

func TestComputeRetryDelay(t *testing.T) {
	t.Parallel()

	resolver := staticResolver(nil)
	svc := newTestFanout(t, &fakeDeliveryRepo{}, &fakeSubscriptionRepo{}, &fakeEndpointRepo{}, resolver,
		&fakeAdapter{channel: domain.ChannelRealtime},
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: 60 * time.Second},
		{attempt: 3, want: 120 * time.Second},
		{attempt: 10, want: 15 * time.Minute},
	}

	for _, tt := range tests {
		if got := svc.computeRetryDelay(tt.attempt); got != tt.want {
			t.Fatalf("computeRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
