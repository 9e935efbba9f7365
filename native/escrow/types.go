package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Status represents the lifecycle states of a rental payment.
type Status uint8

const (
	StatusPending Status = iota
	StatusPaid
	StatusReleased
	StatusRefunded
)

// String returns the canonical upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPaid:
		return "PAID"
	case StatusReleased:
		return "RELEASED"
	case StatusRefunded:
		return "REFUNDED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// CanTransition reports whether next directly follows s in the lifecycle.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid
	case StatusPaid:
		return next == StatusReleased || next == StatusRefunded
	default:
		return false
	}
}

// ParseStatus converts a status name back into its value.
func ParseStatus(value string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PENDING":
		return StatusPending, nil
	case "PAID":
		return StatusPaid, nil
	case "RELEASED":
		return StatusReleased, nil
	case "REFUNDED":
		return StatusRefunded, nil
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidParameter, value)
	}
}

// Payment is a single escrowed rental payment. ID, parties and amount are
// fixed at creation; only Status moves.
type Payment struct {
	ID     uint64
	Payer  [20]byte
	Payee  [20]byte
	Amount *big.Int
	Status Status
}

// Clone returns a deep copy of the payment so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// ValidateAmount ensures the value is strictly positive and representable as
// an unsigned 256-bit ledger quantity.
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParameter)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidParameter)
	}
	return nil
}

// SanitizePayment validates the supplied payment and returns a cloned
// instance. The function does not mutate the original value.
func SanitizePayment(p *Payment) (*Payment, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payment", ErrInvalidParameter)
	}
	clone := p.Clone()
	if err := ValidateAmount(clone.Amount); err != nil {
		return nil, err
	}
	if clone.Payer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: payer required", ErrInvalidParameter)
	}
	if clone.Payee == ([20]byte{}) {
		return nil, fmt.Errorf("%w: payee required", ErrInvalidParameter)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid payment status %d", ErrInvalidParameter, clone.Status)
	}
	return clone, nil
}
