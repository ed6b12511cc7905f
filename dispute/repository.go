package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown dispute or escrow id.
	ErrNotFound = errors.New("dispute: not found")
	// ErrInvalidInput signals a malformed percentage, empty notes or an
	// unknown enum value. Nothing is written.
	ErrInvalidInput = errors.New("dispute: invalid input")
	// ErrInvalidState signals the escrow account cannot be disputed in its
	// current status.
	ErrInvalidState = errors.New("dispute: escrow not in a disputable state")
	// ErrAlreadyDisputed signals an open or under_review case already exists
	// for the escrow account.
	ErrAlreadyDisputed = errors.New("dispute: escrow already has an active dispute")
	// ErrConflict signals the conditioned update lost a race: the case was
	// already resolved (or the account moved) by a concurrent actor.
	ErrConflict = errors.New("dispute: concurrent update conflict")
)

// Repository defines the ledger access the dispute service needs.
type Repository interface {
	InsertCase(ctx context.Context, tx pgx.Tx, c Case) (Case, error)
	GetCase(ctx context.Context, id string) (Case, error)
	ListPending(ctx context.Context) ([]Case, error)
	StartReview(ctx context.Context, disputeID string) (Case, error)
	MarkEscrowDisputed(ctx context.Context, tx pgx.Tx, escrowID string) error
	ResolveCase(ctx context.Context, tx pgx.Tx, params ResolveParams) (Case, error)
	LockEscrowForSettlement(ctx context.Context, tx pgx.Tx, escrowID string) (amount, fee int64, err error)
	SettleEscrow(ctx context.Context, tx pgx.Tx, escrowID string, refund bool) error
}

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const caseColumns = `id, escrow_id, status::text, priority::text, dispute_reason, description, created_at, resolved_by, resolution_notes, award_to_buyer_percentage, resolved_at`

// InsertCase creates the case in open status. The partial unique index on
// escrow_id over open/under_review rows closes the double-filing race.
func (r *PGRepository) InsertCase(ctx context.Context, tx pgx.Tx, c Case) (Case, error) {
	const insertSQL = `
		INSERT INTO escrow_disputes (id, escrow_id, status, priority, priority_rank, dispute_reason, description)
		VALUES ($1, $2, 'open', $3, $4, $5, $6)
		RETURNING ` + caseColumns

	created, err := scanCase(tx.QueryRow(ctx, insertSQL,
		c.ID, c.EscrowID, c.Priority, c.Priority.Rank(), c.Reason, c.Description))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Case{}, ErrAlreadyDisputed
		}
		return Case{}, fmt.Errorf("dispute: insert case: %w", err)
	}
	return created, nil
}

// GetCase fetches a dispute case by id.
func (r *PGRepository) GetCase(ctx context.Context, id string) (Case, error) {
	const selectSQL = `
		SELECT ` + caseColumns + `
		FROM escrow_disputes
		WHERE id = $1
	`

	c, err := scanCase(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: get case: %w", err)
	}
	return c, nil
}

// ListPending returns open and under_review cases ordered for arbitration:
// priority rank ascending, then filing time ascending. The rank is computed
// in Go at insert time, not by the database.
func (r *PGRepository) ListPending(ctx context.Context) ([]Case, error) {
	const selectSQL = `
		SELECT ` + caseColumns + `
		FROM escrow_disputes
		WHERE status IN ('open', 'under_review')
		ORDER BY priority_rank ASC, created_at ASC
	`

	rows, err := r.pool.Query(ctx, selectSQL)
	if err != nil {
		return nil, fmt.Errorf("dispute: list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Case, 0, 16)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate cases: %w", err)
	}
	return out, nil
}

// StartReview claims an open case for arbitration: open -> under_review.
func (r *PGRepository) StartReview(ctx context.Context, disputeID string) (Case, error) {
	const updateSQL = `
		UPDATE escrow_disputes
		SET status = 'under_review'
		WHERE id = $1 AND status = 'open'
		RETURNING ` + caseColumns

	c, err := scanCase(r.pool.QueryRow(ctx, updateSQL, disputeID))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("dispute: start review: %w", err)
	}

	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status::text FROM escrow_disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: start review fetch: %w", err)
	}
	return Case{}, fmt.Errorf("%w: case is %s", ErrConflict, status)
}

// MarkEscrowDisputed flips the escrow account to disputed, allowed only from
// active or shipped. Zero rows means the account is missing, already
// disputed, or in a status that cannot be disputed.
func (r *PGRepository) MarkEscrowDisputed(ctx context.Context, tx pgx.Tx, escrowID string) error {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'disputed', version = version + 1
		WHERE id = $1 AND status IN ('active', 'shipped')
	`

	tag, err := tx.Exec(ctx, updateSQL, escrowID)
	if err != nil {
		return fmt.Errorf("dispute: mark escrow disputed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status::text FROM escrow_transactions WHERE id = $1`, escrowID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: mark escrow fetch: %w", err)
	}
	if status == "disputed" {
		return ErrAlreadyDisputed
	}
	return fmt.Errorf("%w: escrow is %s", ErrInvalidState, status)
}

// ResolveCase applies the arbitrator's decision with the conditioned update
// that makes double-resolution impossible: only a case still open or
// under_review can transition, and the loser of a race gets ErrConflict.
func (r *PGRepository) ResolveCase(ctx context.Context, tx pgx.Tx, params ResolveParams) (Case, error) {
	const updateSQL = `
		UPDATE escrow_disputes
		SET status = 'resolved',
		    resolved_by = $2,
		    resolution_notes = $3,
		    award_to_buyer_percentage = $4,
		    resolved_at = now()
		WHERE id = $1 AND status IN ('open', 'under_review')
		RETURNING ` + caseColumns

	c, err := scanCase(tx.QueryRow(ctx, updateSQL,
		params.DisputeID, params.ArbitratorID, params.ResolutionNotes, params.AwardToBuyerPct))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("dispute: resolve case: %w", err)
	}

	var status Status
	if err := tx.QueryRow(ctx, `SELECT status::text FROM escrow_disputes WHERE id = $1`, params.DisputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	return Case{}, fmt.Errorf("%w: case already %s", ErrConflict, status)
}

// LockEscrowForSettlement reads the held amounts under a row lock so the
// split is computed against the amounts that will settle.
func (r *PGRepository) LockEscrowForSettlement(ctx context.Context, tx pgx.Tx, escrowID string) (int64, int64, error) {
	const selectSQL = `
		SELECT amount, fee_amount, status::text
		FROM escrow_transactions
		WHERE id = $1
		FOR UPDATE
	`

	var (
		amount, fee int64
		status      string
	)
	if err := tx.QueryRow(ctx, selectSQL, escrowID).Scan(&amount, &fee, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("dispute: lock escrow: %w", err)
	}
	if status != "disputed" {
		return 0, 0, fmt.Errorf("%w: escrow is %s, expected disputed", ErrConflict, status)
	}
	return amount, fee, nil
}

// SettleEscrow closes the account: disputed -> released (seller payout
// component exists) or refunded (full buyer refund).
func (r *PGRepository) SettleEscrow(ctx context.Context, tx pgx.Tx, escrowID string, refund bool) error {
	status := "released"
	if refund {
		status = "refunded"
	}

	const updateSQL = `
		UPDATE escrow_transactions
		SET status = $2::escrow_status, released_at = now(), version = version + 1
		WHERE id = $1 AND status = 'disputed'
	`

	tag, err := tx.Exec(ctx, updateSQL, escrowID, status)
	if err != nil {
		return fmt.Errorf("dispute: settle escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: escrow left disputed status mid-resolution", ErrConflict)
	}
	return nil
}

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	err := row.Scan(
		&c.ID,
		&c.EscrowID,
		&c.Status,
		&c.Priority,
		&c.Reason,
		&c.Description,
		&c.CreatedAt,
		&c.ResolvedBy,
		&c.ResolutionNotes,
		&c.AwardToBuyerPct,
		&c.ResolvedAt,
	)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}
