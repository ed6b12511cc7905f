package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Repository computes read-only rollups over the ledger. It never mutates
// state and holds no locks beyond the individual statements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed stats repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Summarize rolls up accounts and disputes created since the given time.
// The three queries are independent snapshots and run concurrently.
func (r *Repository) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var summary Summary

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		const accountsSQL = `
			SELECT COUNT(*),
			       COALESCE(SUM(amount), 0),
			       COUNT(*) FILTER (WHERE status = 'active'),
			       COUNT(*) FILTER (WHERE status = 'shipped'),
			       COUNT(*) FILTER (WHERE status = 'disputed'),
			       COUNT(*) FILTER (WHERE status = 'released'),
			       COUNT(*) FILTER (WHERE status = 'refunded'),
			       COALESCE(SUM(amount) FILTER (WHERE status NOT IN ('released', 'refunded')), 0),
			       COALESCE(SUM(fee_amount) FILTER (WHERE status IN ('released', 'refunded')), 0)
			FROM escrow_transactions
			WHERE created_at >= $1
		`
		err := r.pool.QueryRow(ctx, accountsSQL, since).Scan(
			&summary.TotalEscrows,
			&summary.TotalAmount,
			&summary.ActiveEscrows,
			&summary.ShippedEscrows,
			&summary.DisputedEscrows,
			&summary.ReleasedEscrows,
			&summary.RefundedEscrows,
			&summary.HeldAmount,
			&summary.TotalFeesCollected,
		)
		if err != nil {
			return fmt.Errorf("stats: account rollup: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		const holdingSQL = `
			SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (released_at - created_at)) / 86400.0), 0)
			FROM escrow_transactions
			WHERE created_at >= $1
			  AND status IN ('released', 'refunded')
			  AND released_at IS NOT NULL
		`
		if err := r.pool.QueryRow(ctx, holdingSQL, since).Scan(&summary.AvgHoldingDays); err != nil {
			return fmt.Errorf("stats: holding duration: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		const disputesSQL = `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE status IN ('open', 'under_review'))
			FROM escrow_disputes
			WHERE created_at >= $1
		`
		if err := r.pool.QueryRow(ctx, disputesSQL, since).Scan(&summary.TotalDisputes, &summary.OpenDisputes); err != nil {
			return fmt.Errorf("stats: dispute rollup: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}
