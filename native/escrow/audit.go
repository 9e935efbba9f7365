package escrow

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"rentescrow/core/events"
	"rentescrow/core/types"
)

// Snapshot is the escrow state rebuilt from notification records alone.
type Snapshot struct {
	Payments []*Payment
	Roles    Roles
	Fees     FeePolicy
	Paused   bool
	// HoldingBalance is what the vault must hold if every movement went
	// through the engine: funded amounts minus payouts, refunds and sweeps.
	HoldingBalance *big.Int
	// Commission is the cumulative commission retained by releases.
	Commission *big.Int
	// Withdrawn is the cumulative amount swept by the owner.
	Withdrawn *big.Int
}

// Replay verifies the hash chain of records and rebuilds the escrow state
// from the escrow.* notifications, ignoring foreign event types. Any
// transition that the engine could not have produced is reported as
// ErrInvalidState.
func Replay(records []*events.Record) (*Snapshot, error) {
	if err := events.VerifyChain(records); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Payments:       make([]*Payment, 0),
		Fees:           FeePolicy{ProtectionFee: big.NewInt(0), CommissionFee: big.NewInt(0)},
		HoldingBalance: big.NewInt(0),
		Commission:     big.NewInt(0),
		Withdrawn:      big.NewInt(0),
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec.Event.Type, "escrow.") {
			continue
		}
		if err := snap.apply(&rec.Event); err != nil {
			return nil, fmt.Errorf("replay record %d (%s): %w", rec.Sequence, rec.Event.Type, err)
		}
	}
	return snap, nil
}

func (s *Snapshot) apply(evt *types.Event) error {
	attrs := evt.Attributes
	switch evt.Type {
	case EventTypeInitialised:
		owner, err := attrAddress(attrs, "owner")
		if err != nil {
			return err
		}
		s.Roles.Owner = owner
		if _, ok := attrs["marketplace"]; ok {
			if s.Roles.Marketplace, err = attrAddress(attrs, "marketplace"); err != nil {
				return err
			}
		}
		if _, ok := attrs["disputeAuthority"]; ok {
			if s.Roles.DisputeAuthority, err = attrAddress(attrs, "disputeAuthority"); err != nil {
				return err
			}
		}
		if s.Fees.ProtectionFee, err = attrAmount(attrs, "protectionFee"); err != nil {
			return err
		}
		if s.Fees.CommissionFee, err = attrAmount(attrs, "commissionFee"); err != nil {
			return err
		}
	case EventTypePaymentCreated:
		p, err := paymentFromAttrs(attrs)
		if err != nil {
			return err
		}
		if p.ID != uint64(len(s.Payments)) {
			return fmt.Errorf("%w: payment id %d out of sequence (expected %d)", ErrInvalidState, p.ID, len(s.Payments))
		}
		if p.Status != StatusPending {
			return fmt.Errorf("%w: payment %d created as %s", ErrInvalidState, p.ID, p.Status)
		}
		s.Payments = append(s.Payments, p)
	case EventTypePaymentPaid, EventTypePaymentReleased, EventTypePaymentRefunded:
		next, err := paymentFromAttrs(attrs)
		if err != nil {
			return err
		}
		if next.ID >= uint64(len(s.Payments)) {
			return fmt.Errorf("%w: payment %d", ErrNotFound, next.ID)
		}
		current := s.Payments[next.ID]
		if !current.Status.CanTransition(next.Status) {
			return fmt.Errorf("%w: payment %d moved %s -> %s", ErrInvalidState, next.ID, current.Status, next.Status)
		}
		if current.Payer != next.Payer || current.Payee != next.Payee || current.Amount.Cmp(next.Amount) != 0 {
			return fmt.Errorf("%w: payment %d immutable fields changed", ErrInvalidState, next.ID)
		}
		current.Status = next.Status
		switch next.Status {
		case StatusPaid:
			s.HoldingBalance.Add(s.HoldingBalance, current.Amount)
		case StatusReleased:
			net, err := attrAmount(attrs, "net")
			if err != nil {
				return err
			}
			commission, err := attrAmount(attrs, "commission")
			if err != nil {
				return err
			}
			if new(big.Int).Add(net, commission).Cmp(current.Amount) != 0 {
				return fmt.Errorf("%w: payment %d release does not add up", ErrInvalidState, next.ID)
			}
			s.HoldingBalance.Sub(s.HoldingBalance, net)
			s.Commission.Add(s.Commission, commission)
		case StatusRefunded:
			s.HoldingBalance.Sub(s.HoldingBalance, current.Amount)
		}
	case EventTypeWithdrawal:
		amount, err := attrAmount(attrs, "amount")
		if err != nil {
			return err
		}
		s.HoldingBalance.Sub(s.HoldingBalance, amount)
		s.Withdrawn.Add(s.Withdrawn, amount)
	case EventTypeFeeSet:
		kind, err := ParseFeeKind(attrs["kind"])
		if err != nil {
			return err
		}
		value, err := attrAmount(attrs, "value")
		if err != nil {
			return err
		}
		s.Fees = *s.Fees.With(kind, value)
	case EventTypeAddressSet:
		role, err := ParseRole(attrs["role"])
		if err != nil {
			return err
		}
		addr, err := attrAddress(attrs, "address")
		if err != nil {
			return err
		}
		switch role {
		case RoleMarketplace:
			s.Roles.Marketplace = addr
		case RoleDisputeAuthority:
			s.Roles.DisputeAuthority = addr
		default:
			return fmt.Errorf("%w: role %s is not assignable", ErrInvalidState, role)
		}
	case EventTypePauseSet:
		paused, err := strconv.ParseBool(attrs["paused"])
		if err != nil {
			return fmt.Errorf("%w: paused flag: %v", ErrInvalidParameter, err)
		}
		s.Paused = paused
	}
	if s.HoldingBalance.Sign() < 0 {
		return fmt.Errorf("%w: holding balance negative", ErrInvalidState)
	}
	return nil
}

func paymentFromAttrs(attrs map[string]string) (*Payment, error) {
	id, err := strconv.ParseUint(attrs["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: payment id: %v", ErrInvalidParameter, err)
	}
	payer, err := attrAddress(attrs, "payer")
	if err != nil {
		return nil, err
	}
	payee, err := attrAddress(attrs, "payee")
	if err != nil {
		return nil, err
	}
	amount, err := attrAmount(attrs, "amount")
	if err != nil {
		return nil, err
	}
	status, err := ParseStatus(attrs["status"])
	if err != nil {
		return nil, err
	}
	return &Payment{ID: id, Payer: payer, Payee: payee, Amount: amount, Status: status}, nil
}

func attrAddress(attrs map[string]string, key string) ([20]byte, error) {
	addr, ok := decodeAddress(attrs[key])
	if !ok {
		return addr, fmt.Errorf("%w: attribute %s is not an address", ErrInvalidParameter, key)
	}
	return addr, nil
}

func attrAmount(attrs map[string]string, key string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(attrs[key], 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: attribute %s is not an amount", ErrInvalidParameter, key)
	}
	return value, nil
}
