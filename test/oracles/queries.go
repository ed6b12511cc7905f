package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_payout_conservation",
			SQL: `SELECT p.escrow_id FROM escrow_payouts p
                  JOIN escrow_transactions t ON t.id = p.escrow_id
                  WHERE p.buyer_amount + p.seller_amount <> t.amount - t.fee_amount
                     OR p.buyer_amount < 0 OR p.seller_amount < 0`,
		},
		{
			Name: "O2_settlement_matches_terminal",
			SQL: `SELECT t.id FROM escrow_transactions t
                  LEFT JOIN escrow_payouts p ON p.escrow_id = t.id
                  WHERE (t.status IN ('released','refunded')) <> (p.escrow_id IS NOT NULL)`,
		},
		{
			Name: "O3_single_active_dispute",
			SQL: `SELECT escrow_id, COUNT(*) FROM escrow_disputes
                  WHERE status IN ('open','under_review')
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_resolved_dispute_settled_escrow",
			SQL: `SELECT d.id FROM escrow_disputes d
                  JOIN escrow_transactions t ON t.id = d.escrow_id
                  WHERE d.status = 'resolved' AND t.status NOT IN ('released','refunded')`,
		},
		{
			Name: "O5_disputed_escrow_has_active_case",
			SQL: `SELECT t.id FROM escrow_transactions t
                  WHERE t.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM escrow_disputes d
                                    WHERE d.escrow_id = t.id AND d.status IN ('open','under_review'))`,
		},
		{
			Name: "O6_refund_sends_nothing_to_seller",
			SQL: `SELECT p.escrow_id FROM escrow_payouts p
                  JOIN escrow_transactions t ON t.id = p.escrow_id
                  WHERE t.status = 'refunded' AND p.seller_amount <> 0`,
		},
		{
			Name: "O7_timestamps_match_status",
			SQL: `SELECT id FROM escrow_transactions
                  WHERE (status = 'shipped' AND shipped_at IS NULL)
                     OR (status IN ('released','refunded') AND released_at IS NULL)
                     OR (status NOT IN ('released','refunded') AND released_at IS NOT NULL)`,
		},
		{
			Name: "O8_every_escrow_has_creation_event",
			SQL: `SELECT t.id FROM escrow_transactions t
                  WHERE NOT EXISTS (SELECT 1 FROM escrow_events e
                                    WHERE e.escrow_id = t.id AND e.type = 'ESCROW_CREATED')`,
		},
		{
			Name: "O9_fee_within_amount",
			SQL: `SELECT id FROM escrow_transactions
                  WHERE fee_amount < 0 OR fee_amount > amount OR amount <= 0 OR version < 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
