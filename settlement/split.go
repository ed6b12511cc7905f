// Package settlement computes the final buyer/seller fund split for an
// escrow account. It is pure arithmetic on minor currency units and performs
// no I/O, so every caller (dispute resolution, buyer confirmation, the SLA
// sweep) shares one rounding policy.
package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPercentage signals an award percentage outside [0, 100].
	ErrInvalidPercentage = errors.New("settlement: award percentage must be between 0 and 100")
	// ErrNegativeAmount signals a negative principal or fee.
	ErrNegativeAmount = errors.New("settlement: amount and fee must be non-negative")
	// ErrFeeExceedsAmount signals a platform fee larger than the held principal.
	ErrFeeExceedsAmount = errors.New("settlement: fee exceeds held amount")
	// ErrInvalidFeeRate signals a fee rate outside [0, 10000] basis points.
	ErrInvalidFeeRate = errors.New("settlement: fee rate must be between 0 and 10000 basis points")
)

// Payout is the outcome of a settlement: how many minor units go to each
// party. The platform fee is already withheld and never appears here.
type Payout struct {
	BuyerAmount  int64
	SellerAmount int64
}

// Split divides the net distributable amount (principal minus platform fee)
// between buyer and seller. The buyer share is floor(net * pct / 100); the
// rounding remainder is assigned to the seller. BuyerAmount + SellerAmount
// always equals amount - feeAmount exactly.
func Split(amount, feeAmount int64, awardToBuyerPct int) (Payout, error) {
	if awardToBuyerPct < 0 || awardToBuyerPct > 100 {
		return Payout{}, fmt.Errorf("%w: got %d", ErrInvalidPercentage, awardToBuyerPct)
	}
	if amount < 0 || feeAmount < 0 {
		return Payout{}, ErrNegativeAmount
	}
	if feeAmount > amount {
		return Payout{}, fmt.Errorf("%w: fee %d > amount %d", ErrFeeExceedsAmount, feeAmount, amount)
	}

	net := amount - feeAmount
	buyer := net * int64(awardToBuyerPct) / 100
	return Payout{
		BuyerAmount:  buyer,
		SellerAmount: net - buyer,
	}, nil
}

// Fee computes the platform fee for a held amount at the given rate in basis
// points, rounded down to the nearest minor unit.
func Fee(amount int64, bps int) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if bps < 0 || bps > 10000 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidFeeRate, bps)
	}
	return amount * int64(bps) / 10000, nil
}
