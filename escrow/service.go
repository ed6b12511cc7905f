package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/settlement"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service drives the escrow account state machine. Every transition commits
// the status change, any payout row and the audit event as one transaction;
// a lost race surfaces as ErrConflict and is never retried here.
type Service struct {
	pool        TxBeginner
	repo        Repository
	feeBps      int
	idGenerator func() string
	now         func() time.Time
}

// NewService builds a Service. feeBps is the platform fee in basis points,
// charged at creation and retained regardless of outcome.
func NewService(pool TxBeginner, repo Repository, feeBps int) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		feeBps:      feeBps,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a new escrow account in pending status for an authorized
// order payment. The fee is computed once here and never changes.
func (s *Service) Create(ctx context.Context, params CreateParams) (Account, error) {
	if strings.TrimSpace(params.OrderID) == "" {
		return Account{}, fmt.Errorf("%w: order id required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.BuyerID) == "" || strings.TrimSpace(params.SellerID) == "" {
		return Account{}, fmt.Errorf("%w: buyer and seller ids required", ErrInvalidInput)
	}
	if params.Amount <= 0 {
		return Account{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	fee, err := settlement.Fee(params.Amount, s.feeBps)
	if err != nil {
		return Account{}, fmt.Errorf("escrow: compute fee: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, Account{
		ID:        s.idGenerator(),
		OrderID:   params.OrderID,
		BuyerID:   params.BuyerID,
		SellerID:  params.SellerID,
		Amount:    params.Amount,
		FeeAmount: fee,
	})
	if err != nil {
		return Account{}, err
	}

	payload := map[string]any{
		"order_id":   created.OrderID,
		"amount":     created.Amount,
		"fee_amount": created.FeeAmount,
	}
	if err := s.repo.AppendEvent(ctx, tx, created.ID, EventCreated, nil, payload); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return created, nil
}

// Get returns the current state of an account.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Activate marks funds as captured and held: pending -> active.
func (s *Service) Activate(ctx context.Context, id string, expectedVersion int) (Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.Activate(ctx, tx, id, expectedVersion)
	if err != nil {
		return Account{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, acct.ID, EventFundsCaptured, nil, nil); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("escrow: commit activate: %w", err)
	}
	return acct, nil
}

// MarkShipped records the seller dispatching goods: active -> shipped.
func (s *Service) MarkShipped(ctx context.Context, id, sellerID string, expectedVersion int) (Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.MarkShipped(ctx, tx, id, expectedVersion)
	if err != nil {
		return Account{}, err
	}

	var actor *string
	if sellerID != "" {
		actor = &sellerID
	}
	if err := s.repo.AppendEvent(ctx, tx, acct.ID, EventGoodsShipped, actor, nil); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("escrow: commit ship: %w", err)
	}
	return acct, nil
}

// ConfirmReceipt releases held funds on buyer confirmation: shipped ->
// released, full net to the seller.
func (s *Service) ConfirmReceipt(ctx context.Context, id, buyerID string, expectedVersion int) (Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.Release(ctx, tx, id, expectedVersion)
	if err != nil {
		return Account{}, err
	}

	var actor *string
	if buyerID != "" {
		actor = &buyerID
	}
	if err := s.settle(ctx, tx, acct, nil, EventReceiptConfirmed, actor); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("escrow: commit release: %w", err)
	}
	return acct, nil
}

// AutoReleaseIfOverdue releases a shipped, undisputed account whose SLA
// window has elapsed. It is idempotent: any ineligible account (not yet due,
// disputed, already terminal) yields OutcomeSkipped, so duplicate or
// overlapping sweep runs are harmless.
func (s *Service) AutoReleaseIfOverdue(ctx context.Context, id string, window time.Duration) (ReleaseOutcome, error) {
	cutoff := s.now().Add(-window)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.AutoRelease(ctx, tx, id, cutoff)
	if err != nil {
		if errors.Is(err, ErrNotEligible) {
			return OutcomeSkipped, nil
		}
		return "", err
	}

	if err := s.settle(ctx, tx, acct, nil, EventAutoReleased, nil); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("escrow: commit auto-release: %w", err)
	}
	return OutcomeReleased, nil
}

// ListOverdue returns ids eligible for auto-release, for the external sweep.
func (s *Service) ListOverdue(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	return s.repo.ListOverdue(ctx, s.now().Add(-window), limit)
}

// settle records the funds movement for a non-disputed release: the full net
// amount goes to the seller.
func (s *Service) settle(ctx context.Context, tx pgx.Tx, acct Account, disputeID *string, eventType string, actorID *string) error {
	payout, err := settlement.Split(acct.Amount, acct.FeeAmount, 0)
	if err != nil {
		return fmt.Errorf("escrow: compute payout: %w", err)
	}

	if err := s.repo.RecordPayout(ctx, tx, PayoutRecord{
		EscrowID:     acct.ID,
		DisputeID:    disputeID,
		BuyerAmount:  payout.BuyerAmount,
		SellerAmount: payout.SellerAmount,
	}); err != nil {
		return err
	}

	payload := map[string]any{
		"buyer_amount":  payout.BuyerAmount,
		"seller_amount": payout.SellerAmount,
	}
	return s.repo.AppendEvent(ctx, tx, acct.ID, eventType, actorID, payload)
}
