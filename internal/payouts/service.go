package payouts

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Service runs the payout lifecycle: debit at acceptance, admin settles
// each request to processed or failed, failure restores the funds.
type Service interface {
	Request(ctx context.Context, actor types.Actor, input RequestInput) (*models.PayoutRequest, error)
	Complete(ctx context.Context, payoutID uuid.UUID, actor types.Actor, reference string) (*models.PayoutRequest, error)
	Fail(ctx context.Context, payoutID uuid.UUID, actor types.Actor, reason string) (*models.PayoutRequest, error)
	Get(ctx context.Context, payoutID uuid.UUID, actor types.Actor) (*models.PayoutRequest, error)
	ListForVendor(ctx context.Context, actor types.Actor, params pagination.Params) (*Page, error)
	ListPending(ctx context.Context, actor types.Actor, limit int) ([]models.PayoutRequest, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RequestInput captures a withdrawal request with its bank snapshot.
type RequestInput struct {
	AmountCents   int64  `json:"amount_cents" validate:"required,gt=0"`
	BankName      string `json:"bank_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	AccountName   string `json:"account_name" validate:"required"`
}

// Page is one page of payout requests plus the next cursor.
type Page struct {
	Payouts    []models.PayoutRequest `json:"payouts"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type service struct {
	repo     Repository
	ledgers  ledger.Repository
	events   *outbox.Service
	runner   txRunner
	pricing  config.PricingConfig
	pipeline *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewService wires the payouts service. Metrics may be nil.
func NewService(repo Repository, ledgers ledger.Repository, events *outbox.Service, runner txRunner, pricing config.PricingConfig, pipeline *metrics.PipelineMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if runner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{
		repo:     repo,
		ledgers:  ledgers,
		events:   events,
		runner:   runner,
		pricing:  pricing,
		pipeline: pipeline,
		logg:     logg,
	}, nil
}

// Request debits the vendor ledger and opens a pending payout in one tx.
// Disputed funds count against availability through the held floor on the
// guarded debit, so the reserve and the balance check cannot race.
func (s *service) Request(ctx context.Context, actor types.Actor, input RequestInput) (*models.PayoutRequest, error) {
	vendorID, err := requireVendor(actor)
	if err != nil {
		return nil, err
	}
	if input.AmountCents <= 0 {
		return nil, errors.New(errors.CodeValidation, "payout amount must be positive")
	}
	if input.AmountCents < s.pricing.MinPayoutCents {
		return nil, errors.New(errors.CodeValidation, "payout below minimum").
			WithDetails(map[string]any{"min_cents": s.pricing.MinPayoutCents})
	}
	if strings.TrimSpace(input.BankName) == "" || strings.TrimSpace(input.AccountNumber) == "" || strings.TrimSpace(input.AccountName) == "" {
		return nil, errors.New(errors.CodeValidation, "bank details are required")
	}

	payout := &models.PayoutRequest{
		VendorID:      vendorID,
		AmountCents:   input.AmountCents,
		Status:        enums.PayoutStatusPending,
		BankName:      strings.TrimSpace(input.BankName),
		AccountNumber: strings.TrimSpace(input.AccountNumber),
		AccountName:   strings.TrimSpace(input.AccountName),
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		ledgers := s.ledgers.WithTx(tx)

		held, err := ledgers.HeldCents(ctx, vendorID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "computing held funds")
		}
		balanceAfter, applied, err := ledgers.DebitGuarded(ctx, vendorID, input.AmountCents, held)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "debiting ledger")
		}
		if !applied {
			return errors.New(errors.CodeInsufficientBalance, "available balance too low").
				WithDetails(map[string]any{
					"requested_cents": input.AmountCents,
					"held_cents":      held,
				})
		}

		if err := s.repo.WithTx(tx).Create(ctx, payout); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "creating payout request")
		}

		payoutID := payout.ID
		entry := models.LedgerEntry{
			VendorID:          vendorID,
			PayoutID:          &payoutID,
			Type:              enums.LedgerEntryPayoutDebit,
			AmountCents:       -input.AmountCents,
			BalanceAfterCents: balanceAfter,
		}
		if err := ledgers.CreateEntry(ctx, &entry); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording payout debit")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, VendorID: &vendorID, Role: string(actor.Role)},
			Data: map[string]any{
				"payout_id":    payout.ID,
				"vendor_id":    vendorID,
				"amount_cents": input.AmountCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.pipeline.IncPayout(string(enums.PayoutStatusPending))
	if s.logg != nil {
		s.logg.Info(s.logg.WithVendorID(ctx, vendorID.String()), "payout requested")
	}
	return payout, nil
}

// Complete marks a pending payout processed. The funds already left the
// ledger at acceptance, so no balance movement happens here.
func (s *service) Complete(ctx context.Context, payoutID uuid.UUID, actor types.Actor, reference string) (*models.PayoutRequest, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	payout, err := s.loadPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status.IsTerminal() {
		return nil, errors.New(errors.CodeStateConflict, "payout already settled")
	}

	var ref *string
	if trimmed := strings.TrimSpace(reference); trimmed != "" {
		ref = &trimmed
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).MarkProcessed(ctx, payoutID, ref, time.Now().UTC())
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "processing payout")
		}
		if !applied {
			return errors.New(errors.CodeStateConflict, "payout already settled")
		}
		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutProcessed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payoutID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"payout_id":    payoutID,
				"vendor_id":    payout.VendorID,
				"amount_cents": payout.AmountCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.pipeline.IncPayout(string(enums.PayoutStatusProcessed))
	return s.loadPayout(ctx, payoutID)
}

// Fail marks a pending payout failed and restores the debited funds with
// a reversal entry.
func (s *service) Fail(ctx context.Context, payoutID uuid.UUID, actor types.Actor, reason string) (*models.PayoutRequest, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New(errors.CodeValidation, "failure reason is required")
	}
	payout, err := s.loadPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status.IsTerminal() {
		return nil, errors.New(errors.CodeStateConflict, "payout already settled")
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).MarkFailed(ctx, payoutID, reason, time.Now().UTC())
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failing payout")
		}
		if !applied {
			return errors.New(errors.CodeStateConflict, "payout already settled")
		}

		ledgers := s.ledgers.WithTx(tx)
		balanceAfter, err := ledgers.Credit(ctx, payout.VendorID, payout.AmountCents)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "restoring funds")
		}
		entry := models.LedgerEntry{
			VendorID:          payout.VendorID,
			PayoutID:          &payoutID,
			Type:              enums.LedgerEntryPayoutReversal,
			AmountCents:       payout.AmountCents,
			BalanceAfterCents: balanceAfter,
			Metadata:          &types.JSONMap{"reason": reason},
		}
		if err := ledgers.CreateEntry(ctx, &entry); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording payout reversal")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payoutID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"payout_id":    payoutID,
				"vendor_id":    payout.VendorID,
				"amount_cents": payout.AmountCents,
				"reason":       reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.pipeline.IncPayout(string(enums.PayoutStatusFailed))
	return s.loadPayout(ctx, payoutID)
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID, actor types.Actor) (*models.PayoutRequest, error) {
	payout, err := s.loadPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		if actor.VendorID == nil || *actor.VendorID != payout.VendorID {
			return nil, errors.New(errors.CodeForbidden, "not your payout")
		}
	}
	return payout, nil
}

func (s *service) ListForVendor(ctx context.Context, actor types.Actor, params pagination.Params) (*Page, error) {
	vendorID, err := requireVendor(actor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByVendor(ctx, vendorID, params)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing payouts")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &Page{Payouts: rows}
	if len(rows) > limit {
		page.Payouts = rows[:limit]
		last := page.Payouts[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) ListPending(ctx context.Context, actor types.Actor, limit int) ([]models.PayoutRequest, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	rows, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing pending payouts")
	}
	return rows, nil
}

func (s *service) loadPayout(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	if payoutID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "payout id is required")
	}
	payout, err := s.repo.GetByID(ctx, payoutID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "payout not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading payout")
	}
	return payout, nil
}

func requireVendor(actor types.Actor) (uuid.UUID, error) {
	if actor.Role != enums.RoleVendor || actor.VendorID == nil || *actor.VendorID == uuid.Nil {
		return uuid.Nil, errors.New(errors.CodeForbidden, "vendor role required")
	}
	return *actor.VendorID, nil
}
