package escrow

import (
	"fmt"
	"math/big"
)

// FeeKind distinguishes the two configurable fees.
type FeeKind string

const (
	FeeKindProtection FeeKind = "protection"
	FeeKindCommission FeeKind = "commission"
)

// ParseFeeKind validates a fee kind name.
func ParseFeeKind(value string) (FeeKind, error) {
	switch FeeKind(value) {
	case FeeKindProtection, FeeKindCommission:
		return FeeKind(value), nil
	default:
		return "", fmt.Errorf("%w: unknown fee kind %q", ErrInvalidParameter, value)
	}
}

// FeePolicy holds the process-wide fee values. The protection fee is tracked
// for the orchestrator; only the commission fee is applied by the engine.
type FeePolicy struct {
	ProtectionFee *big.Int
	CommissionFee *big.Int
}

// Clone returns a deep copy of the policy.
func (f *FeePolicy) Clone() *FeePolicy {
	if f == nil {
		return nil
	}
	return &FeePolicy{
		ProtectionFee: cloneBigInt(f.ProtectionFee),
		CommissionFee: cloneBigInt(f.CommissionFee),
	}
}

// Validate checks that both fees are positive ledger quantities.
func (f *FeePolicy) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil fee policy", ErrInvalidParameter)
	}
	if err := ValidateFee(f.ProtectionFee); err != nil {
		return fmt.Errorf("protection fee: %w", err)
	}
	if err := ValidateFee(f.CommissionFee); err != nil {
		return fmt.Errorf("commission fee: %w", err)
	}
	return nil
}

// Value returns a copy of the fee of the given kind.
func (f *FeePolicy) Value(kind FeeKind) *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	if kind == FeeKindProtection {
		return cloneBigInt(f.ProtectionFee)
	}
	return cloneBigInt(f.CommissionFee)
}

// With returns a copy of the policy with the given fee replaced.
func (f *FeePolicy) With(kind FeeKind, value *big.Int) *FeePolicy {
	next := f.Clone()
	if next == nil {
		next = &FeePolicy{ProtectionFee: big.NewInt(0), CommissionFee: big.NewInt(0)}
	}
	if kind == FeeKindProtection {
		next.ProtectionFee = cloneBigInt(value)
	} else {
		next.CommissionFee = cloneBigInt(value)
	}
	return next
}

// ValidateFee rejects non-positive and out-of-range values.
func ValidateFee(value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("%w: fee must be positive", ErrInvalidParameter)
	}
	return ValidateAmount(value)
}

// SplitRelease computes the payee payout for a release of amount under the
// current commission. The commission is a flat quantity, not a rate; a
// commission above the amount cannot be settled.
func (f *FeePolicy) SplitRelease(amount *big.Int) (net, commission *big.Int, err error) {
	total := cloneBigInt(amount)
	commission = f.Value(FeeKindCommission)
	if commission.Cmp(total) > 0 {
		return nil, nil, fmt.Errorf("%w: commission %s exceeds payment amount %s", ErrInvalidParameter, commission, total)
	}
	return new(big.Int).Sub(total, commission), commission, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
