package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 2 * time.Second
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 8
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxRepository interface {
	FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type gcpPublisher struct {
	inner *gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.inner.Publish(ctx, msg)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Repository outboxRepository
	Events     publisher
	DeadLetter publisher
}

// Service drains the transactional outbox into Pub/Sub. Events that
// exhaust their attempts are shunted to the dead letter topic so the
// queue never wedges on a poison row.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	repo         outboxRepository
	events       publisher
	deadLetter   publisher
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Events == nil {
		return nil, errors.New("event publisher is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := params.Config.Outbox.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		repo:         params.Repository,
		events:       params.Events,
		deadLetter:   params.DeadLetter,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: interval,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	events, err := s.repo.FetchUnpublished(s.batchSize, s.maxAttempts)
	if err != nil {
		return false, fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	var batchErr error
	for _, event := range events {
		if err := s.publishOne(ctx, event); err != nil {
			batchErr = multierr.Append(batchErr, err)
		}
	}
	return true, batchErr
}

func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) error {
	fields := map[string]any{
		"event_id":       event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := s.events.Publish(publishCtx, s.message(event))
	if _, err := result.Get(publishCtx); err != nil {
		nextAttempt := event.AttemptCount + 1
		fields["attempt_count"] = nextAttempt

		if nextAttempt >= s.maxAttempts {
			fields["terminal_reason"] = "max_attempts"
			s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event exhausted retries")
			s.deadLetterEvent(ctx, event, err)
		} else {
			s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error()), "outbox publish failed")
		}

		if markErr := s.repo.MarkFailed(event.ID, err); markErr != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, markErr)
		}
		return nil
	}

	if err := s.repo.MarkPublished(event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
	return nil
}

func (s *Service) deadLetterEvent(ctx context.Context, event models.OutboxEvent, cause error) {
	if s.deadLetter == nil {
		return
	}

	msg := s.message(event)
	msg.Attributes["error"] = cause.Error()

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := s.deadLetter.Publish(publishCtx, msg)
	if _, err := result.Get(publishCtx); err != nil {
		s.logg.Error(ctx, "dead letter publish failed", err)
	}
}

func (s *Service) message(event models.OutboxEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, floor, ceil time.Duration) time.Duration {
	doubled := current * 2
	if doubled < floor {
		doubled = floor
	}
	if doubled > ceil {
		doubled = ceil
	}
	return doubled
}

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
