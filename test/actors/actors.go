package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/escrow"
)

// expected reports whether err is a contention outcome the engine is meant to
// produce when actors race: a stale version, a transition from the wrong state,
// a second dispute, or a row another actor already settled. Transient query
// failures are also tolerated because the chaos goroutine kills backends.
func expected(err error) bool {
	return errors.Is(err, escrow.ErrConflict) ||
		errors.Is(err, escrow.ErrInvalidState) ||
		errors.Is(err, escrow.ErrNotFound) ||
		errors.Is(err, escrow.ErrNotEligible) ||
		errors.Is(err, dispute.ErrConflict) ||
		errors.Is(err, dispute.ErrInvalidState) ||
		errors.Is(err, dispute.ErrAlreadyDisputed) ||
		errors.Is(err, dispute.ErrNotFound)
}

// Creator opens new escrow accounts and immediately activates them so the
// downstream actors always have material to fight over.
func Creator(ctx context.Context, svc *escrow.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		acct, err := svc.Create(ctx, escrow.CreateParams{
			OrderID:  fmt.Sprintf("order-%d", rand.Int63()),
			BuyerID:  fmt.Sprintf("buyer-%d", rand.Intn(16)),
			SellerID: fmt.Sprintf("seller-%d", rand.Intn(16)),
			Amount:   int64(1000 + rand.Intn(100000)),
		})
		if err == nil {
			_, _ = svc.Activate(ctx, acct.ID, acct.Version)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Shipper picks a random active account and marks it shipped using the version
// it just read. Two shippers grabbing the same row race on that version and
// exactly one wins.
func Shipper(ctx context.Context, pool *pgxpool.Pool, svc *escrow.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			id, sellerID string
			version      int
		)
		err := pool.QueryRow(ctx, `SELECT id, seller_id, version FROM escrow_transactions
                                    WHERE status = 'active' ORDER BY random() LIMIT 1`).Scan(&id, &sellerID, &version)
		if err == nil {
			if _, err := svc.MarkShipped(ctx, id, sellerID, version); err != nil && !expected(err) {
				continue
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Confirmer plays the buyer: it grabs a random shipped account and confirms
// receipt, racing the disputer and the overdue sweeper for the same rows.
func Confirmer(ctx context.Context, pool *pgxpool.Pool, svc *escrow.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			id, buyerID string
			version     int
		)
		err := pool.QueryRow(ctx, `SELECT id, buyer_id, version FROM escrow_transactions
                                    WHERE status = 'shipped' ORDER BY random() LIMIT 1`).Scan(&id, &buyerID, &version)
		if err == nil {
			if _, err := svc.ConfirmReceipt(ctx, id, buyerID, version); err != nil && !expected(err) {
				continue
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer files disputes against random active or shipped accounts. Repeat
// filings against the same account must surface as already-disputed, never as
// a second open case.
func Disputer(ctx context.Context, pool *pgxpool.Pool, svc *dispute.Service, stop <-chan struct{}) error {
	reasons := []dispute.Reason{
		dispute.ReasonNotReceived,
		dispute.ReasonNotAsDescribed,
		dispute.ReasonDamaged,
		dispute.ReasonUnauthorized,
		dispute.ReasonOther,
	}
	priorities := []dispute.Priority{
		dispute.PriorityUrgent,
		dispute.PriorityHigh,
		dispute.PriorityMedium,
		dispute.PriorityLow,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM escrow_transactions
                                    WHERE status IN ('active','shipped') ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, err = svc.File(ctx, dispute.FileParams{
				EscrowID:    id,
				Reason:      reasons[rand.Intn(len(reasons))],
				Description: "stress filing",
				Priority:    priorities[rand.Intn(len(priorities))],
			})
			if err != nil && !expected(err) {
				continue
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// Arbitrator drains the pending queue: it takes a random pending case,
// sometimes moves it to review first, then resolves it with a random award.
// Concurrent arbitrators hitting the same case must collapse to one winner.
func Arbitrator(ctx context.Context, svc *dispute.Service, arbitratorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		cases, err := svc.ListPending(ctx)
		if err == nil && len(cases) > 0 {
			c := cases[rand.Intn(len(cases))]
			if c.Status == dispute.StatusOpen && rand.Intn(2) == 0 {
				if _, err := svc.StartReview(ctx, c.ID); err != nil && !expected(err) {
					continue
				}
			}
			_, err = svc.Resolve(ctx, dispute.ResolveParams{
				DisputeID:       c.ID,
				ArbitratorID:    arbitratorID,
				ResolutionNotes: "stress resolution",
				AwardToBuyerPct: rand.Intn(101),
			})
			if err != nil && !expected(err) {
				continue
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Sweeper runs the overdue auto-release loop with an aggressively short window
// so it constantly races confirmers and disputers for shipped rows.
func Sweeper(ctx context.Context, svc *escrow.Service, window time.Duration, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ids, err := svc.ListOverdue(ctx, window, 50)
		if err == nil {
			for _, id := range ids {
				if _, err := svc.AutoReleaseIfOverdue(ctx, id, window); err != nil && !expected(err) {
					break
				}
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}
