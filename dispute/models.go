package dispute

import (
	"fmt"
	"time"
)

// Status represents the lifecycle of a dispute case.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Priority is set at filing and never changes. Review ordering is by rank
// first, then filing time, so urgent cases always surface before the rest
// and equal-priority cases are served oldest first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort ordinal for a priority, urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// ParsePriority validates a caller-supplied priority string.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
	}
}

// Reason categorizes why the buyer or seller filed the dispute.
type Reason string

const (
	ReasonNotReceived    Reason = "item_not_received"
	ReasonNotAsDescribed Reason = "item_not_as_described"
	ReasonDamaged        Reason = "item_damaged"
	ReasonUnauthorized   Reason = "unauthorized_charge"
	ReasonOther          Reason = "other"
)

// ParseReason validates a caller-supplied reason string.
func ParseReason(s string) (Reason, error) {
	switch Reason(s) {
	case ReasonNotReceived, ReasonNotAsDescribed, ReasonDamaged, ReasonUnauthorized, ReasonOther:
		return Reason(s), nil
	default:
		return "", fmt.Errorf("%w: unknown dispute reason %q", ErrInvalidInput, s)
	}
}

// Case mirrors the escrow_disputes table. The resolution fields are all null
// until an arbitrator resolves the case, then all set together atomically.
type Case struct {
	ID              string
	EscrowID        string
	Status          Status
	Priority        Priority
	Reason          Reason
	Description     string
	CreatedAt       time.Time
	ResolvedBy      *string
	ResolutionNotes *string
	AwardToBuyerPct *int
	ResolvedAt      *time.Time
}

// FileParams enumerates the inputs to filing a new dispute.
type FileParams struct {
	EscrowID    string
	Reason      Reason
	Description string
	Priority    Priority
}

// ResolveParams enumerates an arbitrator's resolution decision.
type ResolveParams struct {
	DisputeID       string
	ArbitratorID    string
	ResolutionNotes string
	AwardToBuyerPct int
}

// Resolution reports the settled outcome: the closed case plus the fund
// split that was persisted with it.
type Resolution struct {
	Case         Case
	BuyerAmount  int64
	SellerAmount int64
	Refunded     bool
}
