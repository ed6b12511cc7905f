package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals an unknown escrow account id.
	ErrNotFound = errors.New("escrow: account not found")
	// ErrInvalidState signals a transition not legal for the current status.
	ErrInvalidState = errors.New("escrow: transition not allowed for current status")
	// ErrConflict signals a lost optimistic-concurrency race: the account
	// changed since the caller read it. Re-read before deciding to retry.
	ErrConflict = errors.New("escrow: version conflict")
	// ErrNotEligible signals an auto-release attempt on an account that is
	// not a shipped, overdue, undisputed escrow.
	ErrNotEligible = errors.New("escrow: not eligible for auto-release")
	// ErrInvalidInput signals malformed creation parameters.
	ErrInvalidInput = errors.New("escrow: invalid input")
)

// Repository defines the ledger access the service needs. Transition methods
// take a pgx.Tx so the service can commit the status change, the payout row
// and the audit event as one atomic unit.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, acct Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	Activate(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error)
	MarkShipped(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error)
	Release(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error)
	AutoRelease(ctx context.Context, tx pgx.Tx, id string, cutoff time.Time) (Account, error)
	RecordPayout(ctx context.Context, tx pgx.Tx, payout PayoutRecord) error
	AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, actorID *string, payload map[string]any) error
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, order_id, buyer_id, seller_id, amount, fee_amount, status::text, version, created_at, shipped_at, released_at`

// Insert creates a new account in pending status at version 1.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, acct Account) (Account, error) {
	const insertSQL = `
		INSERT INTO escrow_transactions (id, order_id, buyer_id, seller_id, amount, fee_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING ` + accountColumns

	created, err := scanAccount(tx.QueryRow(ctx, insertSQL,
		acct.ID, acct.OrderID, acct.BuyerID, acct.SellerID, acct.Amount, acct.FeeAmount))
	if err != nil {
		return Account{}, fmt.Errorf("escrow: insert account: %w", err)
	}
	return created, nil
}

// Get fetches an account by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Account, error) {
	const selectSQL = `
		SELECT ` + accountColumns + `
		FROM escrow_transactions
		WHERE id = $1
	`

	acct, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("escrow: get account: %w", err)
	}
	return acct, nil
}

// Activate transitions pending -> active once payment capture succeeds.
func (r *PGRepository) Activate(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error) {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'active', version = version + 1
		WHERE id = $1 AND status = 'pending' AND version = $2
		RETURNING ` + accountColumns

	return r.transition(ctx, tx, updateSQL, id, StatusPending, expectedVersion)
}

// MarkShipped transitions active -> shipped and stamps shipped_at.
func (r *PGRepository) MarkShipped(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error) {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'shipped', shipped_at = now(), version = version + 1
		WHERE id = $1 AND status = 'active' AND version = $2
		RETURNING ` + accountColumns

	return r.transition(ctx, tx, updateSQL, id, StatusActive, expectedVersion)
}

// Release transitions shipped -> released on buyer confirmation.
func (r *PGRepository) Release(ctx context.Context, tx pgx.Tx, id string, expectedVersion int) (Account, error) {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'released', released_at = now(), version = version + 1
		WHERE id = $1 AND status = 'shipped' AND version = $2
		RETURNING ` + accountColumns

	return r.transition(ctx, tx, updateSQL, id, StatusShipped, expectedVersion)
}

func (r *PGRepository) transition(ctx context.Context, tx pgx.Tx, updateSQL, id string, from Status, expectedVersion int) (Account, error) {
	acct, err := scanAccount(tx.QueryRow(ctx, updateSQL, id, expectedVersion))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("escrow: transition: %w", err)
	}

	// Zero rows: tell the caller why the conditioned update missed.
	var (
		status  Status
		version int
	)
	if err := tx.QueryRow(ctx, `SELECT status::text, version FROM escrow_transactions WHERE id = $1`, id).
		Scan(&status, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("escrow: transition fetch: %w", err)
	}
	if status == from && version != expectedVersion {
		return Account{}, fmt.Errorf("%w: expected version %d, have %d", ErrConflict, expectedVersion, version)
	}
	return Account{}, fmt.Errorf("%w: account is %s", ErrInvalidState, status)
}

// AutoRelease transitions shipped -> released only when shipped_at is older
// than the cutoff. The whole eligibility check lives in the WHERE clause so
// overlapping sweep runs cannot double-release.
func (r *PGRepository) AutoRelease(ctx context.Context, tx pgx.Tx, id string, cutoff time.Time) (Account, error) {
	const updateSQL = `
		UPDATE escrow_transactions
		SET status = 'released', released_at = now(), version = version + 1
		WHERE id = $1 AND status = 'shipped' AND shipped_at IS NOT NULL AND shipped_at <= $2
		RETURNING ` + accountColumns

	acct, err := scanAccount(tx.QueryRow(ctx, updateSQL, id, cutoff))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("escrow: auto-release: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM escrow_transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Account{}, fmt.Errorf("escrow: auto-release fetch: %w", err)
	}
	if !exists {
		return Account{}, ErrNotFound
	}
	return Account{}, ErrNotEligible
}

// RecordPayout inserts the single funds movement for an account. The primary
// key on escrow_id turns any double settlement into a conflict instead of a
// silent duplicate.
func (r *PGRepository) RecordPayout(ctx context.Context, tx pgx.Tx, payout PayoutRecord) error {
	const insertSQL = `
		INSERT INTO escrow_payouts (escrow_id, dispute_id, buyer_amount, seller_amount)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := tx.Exec(ctx, insertSQL, payout.EscrowID, payout.DisputeID, payout.BuyerAmount, payout.SellerAmount); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: payout already recorded", ErrConflict)
		}
		return fmt.Errorf("escrow: record payout: %w", err)
	}
	return nil
}

// AppendEvent writes an audit trail row in the caller's transaction.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, actorID *string, payload map[string]any) error {
	body := []byte("{}")
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("escrow: marshal event payload: %w", err)
		}
		body = encoded
	}

	const insertSQL = `
		INSERT INTO escrow_events (escrow_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, escrowID, eventType, actorID, string(body)); err != nil {
		return fmt.Errorf("escrow: append event: %w", err)
	}
	return nil
}

// ListOverdue returns ids of shipped accounts whose SLA window elapsed,
// oldest shipment first, for the external sweep to feed into auto-release.
func (r *PGRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	const selectSQL = `
		SELECT id
		FROM escrow_transactions
		WHERE status = 'shipped' AND shipped_at IS NOT NULL AND shipped_at <= $1
		ORDER BY shipped_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, selectSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow: list overdue: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("escrow: scan overdue id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate overdue: %w", err)
	}
	return ids, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(
		&acct.ID,
		&acct.OrderID,
		&acct.BuyerID,
		&acct.SellerID,
		&acct.Amount,
		&acct.FeeAmount,
		&acct.Status,
		&acct.Version,
		&acct.CreatedAt,
		&acct.ShippedAt,
		&acct.ReleasedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}
