package escrow

import "time"

// Status is the lifecycle state of an escrow account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusShipped  Status = "shipped"
	StatusDisputed Status = "disputed"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether the status permits no further transitions. A
// released or refunded account is the permanent audit record of a completed
// money movement and must never change again.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Account mirrors the escrow_transactions table. Identity, principal and fee
// are immutable after creation; only status, version and the lifecycle
// timestamps change, and every change bumps version.
type Account struct {
	ID         string
	OrderID    string
	BuyerID    string
	SellerID   string
	Amount     int64
	FeeAmount  int64
	Status     Status
	Version    int
	CreatedAt  time.Time
	ShippedAt  *time.Time
	ReleasedAt *time.Time
}

// Net is the distributable amount once the platform fee is withheld.
func (a Account) Net() int64 {
	return a.Amount - a.FeeAmount
}

// PayoutRecord mirrors the escrow_payouts table: the single funds movement
// recorded when an account reaches released or refunded. The primary key on
// escrow_id backstops the exactly-once settlement rule.
type PayoutRecord struct {
	EscrowID     string
	DisputeID    *string
	BuyerAmount  int64
	SellerAmount int64
	CreatedAt    time.Time
}

// Event types appended to the escrow_events audit trail in the same
// transaction as the transition they describe.
const (
	EventCreated          = "ESCROW_CREATED"
	EventFundsCaptured    = "FUNDS_CAPTURED"
	EventGoodsShipped     = "GOODS_SHIPPED"
	EventReceiptConfirmed = "RECEIPT_CONFIRMED"
	EventAutoReleased     = "AUTO_RELEASED"
	EventDisputeFiled     = "DISPUTE_FILED"
	EventDisputeResolved  = "DISPUTE_RESOLVED"
)

// CreateParams enumerates the immutable identity of a new escrow account.
type CreateParams struct {
	OrderID  string
	BuyerID  string
	SellerID string
	Amount   int64
}

// ReleaseOutcome tells an auto-release caller what happened. Skipped is not
// an error: overlapping sweep runs are expected and harmless.
type ReleaseOutcome string

const (
	OutcomeReleased ReleaseOutcome = "released"
	OutcomeSkipped  ReleaseOutcome = "skipped"
)
