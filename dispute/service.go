package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
	"escrowflow/settlement"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerWriter is the slice of the escrow repository the dispute service
// needs for settlement side effects inside its own transaction.
type LedgerWriter interface {
	RecordPayout(ctx context.Context, tx pgx.Tx, payout escrow.PayoutRecord) error
	AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, actorID *string, payload map[string]any) error
}

// Service manages dispute cases: filing, review ordering and resolution.
type Service struct {
	pool        TxBeginner
	repo        Repository
	ledger      LedgerWriter
	idGenerator func() string
	now         func() time.Time
}

// NewService builds a Service over the dispute repository and the escrow
// ledger writer used for payout and audit rows.
func NewService(pool TxBeginner, repo Repository, ledger LedgerWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		ledger:      ledger,
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

// File opens a dispute case against an escrow account. The case insert and
// the account's transition to disputed commit together; the partial unique
// index rejects a second active case even under a concurrent double-filing.
func (s *Service) File(ctx context.Context, params FileParams) (Case, error) {
	if strings.TrimSpace(params.EscrowID) == "" {
		return Case{}, fmt.Errorf("%w: escrow id required", ErrInvalidInput)
	}
	if _, err := ParseReason(string(params.Reason)); err != nil {
		return Case{}, err
	}
	if _, err := ParsePriority(string(params.Priority)); err != nil {
		return Case{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.MarkEscrowDisputed(ctx, tx, params.EscrowID); err != nil {
		return Case{}, err
	}

	created, err := s.repo.InsertCase(ctx, tx, Case{
		ID:          s.idGenerator(),
		EscrowID:    params.EscrowID,
		Priority:    params.Priority,
		Reason:      params.Reason,
		Description: params.Description,
	})
	if err != nil {
		return Case{}, err
	}

	payload := map[string]any{
		"dispute_id": created.ID,
		"reason":     created.Reason,
		"priority":   created.Priority,
	}
	if err := s.ledger.AppendEvent(ctx, tx, params.EscrowID, escrow.EventDisputeFiled, nil, payload); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("dispute: commit file: %w", err)
	}
	return created, nil
}

// ListPending returns the arbitration queue: open and under_review cases,
// most urgent first, oldest first within a priority.
func (s *Service) ListPending(ctx context.Context) ([]Case, error) {
	return s.repo.ListPending(ctx)
}

// Get returns a single case.
func (s *Service) Get(ctx context.Context, disputeID string) (Case, error) {
	return s.repo.GetCase(ctx, disputeID)
}

// StartReview claims an open case for an arbitrator.
func (s *Service) StartReview(ctx context.Context, disputeID string) (Case, error) {
	return s.repo.StartReview(ctx, disputeID)
}

// Resolve applies an arbitrator's decision. The case close, the account's
// final status, the payout row and the audit event commit as one unit; a
// retry after success observes ErrConflict, never a duplicate settlement.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Resolution, error) {
	if strings.TrimSpace(params.DisputeID) == "" {
		return Resolution{}, fmt.Errorf("%w: dispute id required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.ArbitratorID) == "" {
		return Resolution{}, fmt.Errorf("%w: arbitrator id required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.ResolutionNotes) == "" {
		return Resolution{}, fmt.Errorf("%w: resolution notes required", ErrInvalidInput)
	}
	if params.AwardToBuyerPct < 0 || params.AwardToBuyerPct > 100 {
		return Resolution{}, fmt.Errorf("%w: award percentage %d outside [0, 100]", ErrInvalidInput, params.AwardToBuyerPct)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	resolved, err := s.repo.ResolveCase(ctx, tx, params)
	if err != nil {
		return Resolution{}, err
	}

	amount, fee, err := s.repo.LockEscrowForSettlement(ctx, tx, resolved.EscrowID)
	if err != nil {
		return Resolution{}, err
	}

	payout, err := settlement.Split(amount, fee, params.AwardToBuyerPct)
	if err != nil {
		return Resolution{}, fmt.Errorf("dispute: compute split: %w", err)
	}

	refund := params.AwardToBuyerPct == 100
	if err := s.repo.SettleEscrow(ctx, tx, resolved.EscrowID, refund); err != nil {
		return Resolution{}, err
	}

	disputeID := resolved.ID
	if err := s.ledger.RecordPayout(ctx, tx, escrow.PayoutRecord{
		EscrowID:     resolved.EscrowID,
		DisputeID:    &disputeID,
		BuyerAmount:  payout.BuyerAmount,
		SellerAmount: payout.SellerAmount,
	}); err != nil {
		return Resolution{}, err
	}

	arbitrator := params.ArbitratorID
	eventPayload := map[string]any{
		"dispute_id":    resolved.ID,
		"award_pct":     params.AwardToBuyerPct,
		"buyer_amount":  payout.BuyerAmount,
		"seller_amount": payout.SellerAmount,
		"refunded":      refund,
	}
	if err := s.ledger.AppendEvent(ctx, tx, resolved.EscrowID, escrow.EventDisputeResolved, &arbitrator, eventPayload); err != nil {
		return Resolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	return Resolution{
		Case:         resolved,
		BuyerAmount:  payout.BuyerAmount,
		SellerAmount: payout.SellerAmount,
		Refunded:     refund,
	}, nil
}
