package main

import (
	"context"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	out := f.events
	f.events = nil
	return out, nil
}

func (f *fakeRepo) MarkPublished(id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailed(id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeResult struct {
	err error
}

func (f fakeResult) Get(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "msg-id", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	return fakeResult{err: f.err}
}

func newTestService(t *testing.T, repo *fakeRepo, events, dlq *fakePublisher) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	cfg.Outbox.PollInterval = time.Millisecond

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
		Events:     events,
		DeadLetter: dlq,
	})
	require.NoError(t, err)
	return svc
}

func outboxEvent(attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"event_id":"e1"}`),
		CreatedAt:     time.Now().UTC(),
		AttemptCount:  attempts,
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{outboxEvent(0), outboxEvent(0)}}
	events := &fakePublisher{}
	svc := newTestService(t, repo, events, &fakePublisher{})

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, events.messages, 2)
	require.Len(t, repo.published, 2)
	require.Empty(t, repo.failed)

	attrs := events.messages[0].Attributes
	require.Equal(t, string(enums.EventPaymentConfirmed), attrs["event_type"])
	require.NotEmpty(t, attrs["aggregate_id"])
}

func TestProcessBatchMarksFailureForRetry(t *testing.T) {
	event := outboxEvent(0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	events := &fakePublisher{err: errors.New("pubsub unavailable")}
	dlq := &fakePublisher{}
	svc := newTestService(t, repo, events, dlq)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Empty(t, repo.published)
	require.Equal(t, []uuid.UUID{event.ID}, repo.failed)
	require.Empty(t, dlq.messages, "first failure must not dead letter")
}

func TestProcessBatchDeadLettersExhaustedEvents(t *testing.T) {
	event := outboxEvent(2)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	events := &fakePublisher{err: errors.New("pubsub unavailable")}
	dlq := &fakePublisher{}
	svc := newTestService(t, repo, events, dlq)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, dlq.messages, 1)
	require.Equal(t, "pubsub unavailable", dlq.messages[0].Attributes["error"])
	require.Equal(t, []uuid.UUID{event.ID}, repo.failed)
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, &fakePublisher{}, &fakePublisher{})

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}
