package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// TestDisputeFlow_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies filing and resolution end to end: the one-active-dispute guard,
// the atomic settlement write, and the double-resolution conflict.
func TestDisputeFlow_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "escrow_transactions") || !tableExists(ctx, t, pool, "escrow_disputes") || !tableExists(ctx, t, pool, "escrow_payouts") {
		t.Skip("database schema missing; apply migrations/001_escrow.sql first")
	}

	escrowRepo := escrow.NewRepository(pool)
	escrowSvc := escrow.NewService(pool, escrowRepo, 250)
	svc := NewService(pool, NewRepository(pool), escrowRepo)

	acct, err := escrowSvc.Create(ctx, escrow.CreateParams{
		OrderID:  fmt.Sprintf("itest-dispute-%d", time.Now().UnixNano()),
		BuyerID:  "itest-buyer",
		SellerID: "itest-seller",
		Amount:   12000,
	})
	if err != nil {
		t.Fatalf("seed escrow: %v", err)
	}
	if acct, err = escrowSvc.Activate(ctx, acct.ID, acct.Version); err != nil {
		t.Fatalf("seed activate: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM escrow_events WHERE escrow_id = $1`, acct.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_payouts WHERE escrow_id = $1`, acct.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_disputes WHERE escrow_id = $1`, acct.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_transactions WHERE id = $1`, acct.ID)
	})

	filed, err := svc.File(ctx, FileParams{
		EscrowID:    acct.ID,
		Reason:      ReasonNotAsDescribed,
		Description: "integration filing",
		Priority:    PriorityHigh,
	})
	if err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	if filed.Status != StatusOpen {
		t.Fatalf("expected open case, got %q", filed.Status)
	}

	var escrowStatus string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM escrow_transactions WHERE id = $1`, acct.ID).Scan(&escrowStatus); err != nil {
		t.Fatalf("verify escrow status: %v", err)
	}
	if escrowStatus != "disputed" {
		t.Fatalf("expected escrow disputed after filing, got %q", escrowStatus)
	}

	// a second filing against the same account must be rejected, not stacked
	if _, err := svc.File(ctx, FileParams{
		EscrowID:    acct.ID,
		Reason:      ReasonOther,
		Description: "duplicate filing",
		Priority:    PriorityLow,
	}); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("expected ErrAlreadyDisputed on second filing, got %v", err)
	}

	res, err := svc.Resolve(ctx, ResolveParams{
		DisputeID:       filed.ID,
		ArbitratorID:    "itest-arbitrator",
		ResolutionNotes: "integration resolution",
		AwardToBuyerPct: 30,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.BuyerAmount != 3510 || res.SellerAmount != 8190 {
		t.Fatalf("expected 3510/8190 split, got %d/%d", res.BuyerAmount, res.SellerAmount)
	}
	if res.Refunded {
		t.Fatalf("partial award must release, not refund")
	}

	var (
		caseStatus   string
		buyerAmount  int64
		sellerAmount int64
	)
	if err := pool.QueryRow(ctx, `SELECT d.status::text, p.buyer_amount, p.seller_amount
                                   FROM escrow_disputes d JOIN escrow_payouts p ON p.dispute_id = d.id
                                   WHERE d.id = $1`, filed.ID).Scan(&caseStatus, &buyerAmount, &sellerAmount); err != nil {
		t.Fatalf("verify resolution rows: %v", err)
	}
	if caseStatus != "resolved" {
		t.Fatalf("expected case resolved, got %q", caseStatus)
	}
	if buyerAmount+sellerAmount != 11700 {
		t.Fatalf("split must conserve the net amount, got %d+%d", buyerAmount, sellerAmount)
	}

	// a retried resolution must observe the conflict and write nothing
	if _, err := svc.Resolve(ctx, ResolveParams{
		DisputeID:       filed.ID,
		ArbitratorID:    "itest-arbitrator-2",
		ResolutionNotes: "late duplicate",
		AwardToBuyerPct: 100,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second resolution, got %v", err)
	}

	var payoutCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrow_payouts WHERE escrow_id = $1`, acct.ID).Scan(&payoutCount); err != nil {
		t.Fatalf("count payouts: %v", err)
	}
	if payoutCount != 1 {
		t.Fatalf("expected exactly one payout, got %d", payoutCount)
	}
}

// TestListPending_Integration verifies the arbitration queue order against a
// real database: higher priority first, and within one priority the case
// filed earliest comes first.
func TestListPending_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "escrow_transactions") || !tableExists(ctx, t, pool, "escrow_disputes") {
		t.Skip("database schema missing; apply migrations/001_escrow.sql first")
	}

	escrowRepo := escrow.NewRepository(pool)
	escrowSvc := escrow.NewService(pool, escrowRepo, 250)
	svc := NewService(pool, NewRepository(pool), escrowRepo)

	// filing order: medium, urgent, medium, low
	priorities := []Priority{PriorityMedium, PriorityUrgent, PriorityMedium, PriorityLow}
	escrowIDs := make([]string, 0, len(priorities))
	caseIDs := make([]string, 0, len(priorities))

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		for _, id := range escrowIDs {
			pool.Exec(ctx2, `DELETE FROM escrow_events WHERE escrow_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM escrow_disputes WHERE escrow_id = $1`, id)
			pool.Exec(ctx2, `DELETE FROM escrow_transactions WHERE id = $1`, id)
		}
	})

	base := time.Now().Add(-time.Hour)
	for i, priority := range priorities {
		acct, err := escrowSvc.Create(ctx, escrow.CreateParams{
			OrderID:  fmt.Sprintf("itest-queue-%d-%d", i, time.Now().UnixNano()),
			BuyerID:  "itest-buyer",
			SellerID: "itest-seller",
			Amount:   10000,
		})
		if err != nil {
			t.Fatalf("seed escrow %d: %v", i, err)
		}
		escrowIDs = append(escrowIDs, acct.ID)
		if _, err := escrowSvc.Activate(ctx, acct.ID, acct.Version); err != nil {
			t.Fatalf("seed activate %d: %v", i, err)
		}

		filed, err := svc.File(ctx, FileParams{
			EscrowID:    acct.ID,
			Reason:      ReasonOther,
			Description: fmt.Sprintf("queue ordering case %d", i),
			Priority:    priority,
		})
		if err != nil {
			t.Fatalf("file dispute %d: %v", i, err)
		}
		caseIDs = append(caseIDs, filed.ID)

		// pin filing times a minute apart so the tiebreak is deterministic
		if _, err := pool.Exec(ctx, `UPDATE escrow_disputes SET created_at = $2 WHERE id = $1`,
			filed.ID, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("stagger created_at %d: %v", i, err)
		}
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}

	// a shared database may hold unrelated cases; keep only ours, in order
	mine := make([]string, 0, len(caseIDs))
	for _, c := range pending {
		for _, id := range caseIDs {
			if c.ID == id {
				mine = append(mine, c.ID)
				break
			}
		}
	}

	// urgent first, then the older of the two mediums, then the newer, then low
	want := []string{caseIDs[1], caseIDs[0], caseIDs[2], caseIDs[3]}
	if len(mine) != len(want) {
		t.Fatalf("expected %d cases in the queue, got %d", len(want), len(mine))
	}
	for i := range want {
		if mine[i] != want[i] {
			t.Fatalf("queue position %d: expected case %s, got %s (full order %v)", i, want[i], mine[i], mine)
		}
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
