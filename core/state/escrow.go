package state

import (
	"fmt"
	"math/big"

	"rentescrow/native/escrow"
)

type storedPayment struct {
	ID     uint64
	Payer  [20]byte
	Payee  [20]byte
	Amount *big.Int
	Status uint8
}

func newStoredPayment(p *escrow.Payment) *storedPayment {
	amount := big.NewInt(0)
	if p.Amount != nil {
		amount = new(big.Int).Set(p.Amount)
	}
	return &storedPayment{
		ID:     p.ID,
		Payer:  p.Payer,
		Payee:  p.Payee,
		Amount: amount,
		Status: uint8(p.Status),
	}
}

func (s *storedPayment) toPayment() (*escrow.Payment, error) {
	out := &escrow.Payment{
		ID:     s.ID,
		Payer:  s.Payer,
		Payee:  s.Payee,
		Amount: big.NewInt(0),
		Status: escrow.Status(s.Status),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("escrow: payment %d has invalid stored status %d", s.ID, s.Status)
	}
	return out, nil
}

type storedFees struct {
	ProtectionFee *big.Int
	CommissionFee *big.Int
}

type storedRoles struct {
	Owner            [20]byte
	Marketplace      [20]byte
	DisputeAuthority [20]byte
}

// PaymentCount returns the number of payments ever created.
func (m *Manager) PaymentCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(escrowPaymentCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// PaymentAppend stores p as the next payment. The payment id must equal the
// current count; the record and the incremented count are written together.
func (m *Manager) PaymentAppend(p *escrow.Payment) error {
	if p == nil {
		return fmt.Errorf("escrow: nil payment")
	}
	return m.Atomic(func(tx *Manager) error {
		count, err := tx.PaymentCount()
		if err != nil {
			return err
		}
		if p.ID != count {
			return fmt.Errorf("escrow: payment id %d does not follow count %d", p.ID, count)
		}
		if err := tx.KVPut(EscrowPaymentKey(p.ID), newStoredPayment(p)); err != nil {
			return err
		}
		return tx.KVPut(escrowPaymentCountKey, count+1)
	})
}

// PaymentPut overwrites an existing payment record.
func (m *Manager) PaymentPut(p *escrow.Payment) error {
	if p == nil {
		return fmt.Errorf("escrow: nil payment")
	}
	return m.Atomic(func(tx *Manager) error {
		count, err := tx.PaymentCount()
		if err != nil {
			return err
		}
		if p.ID >= count {
			return fmt.Errorf("escrow: payment %d does not exist", p.ID)
		}
		return tx.KVPut(EscrowPaymentKey(p.ID), newStoredPayment(p))
	})
}

// PaymentGet loads the payment with the supplied id.
func (m *Manager) PaymentGet(id uint64) (*escrow.Payment, bool, error) {
	stored := new(storedPayment)
	ok, err := m.KVGet(EscrowPaymentKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	p, err := stored.toPayment()
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// EscrowFeesGet loads the fee policy.
func (m *Manager) EscrowFeesGet() (*escrow.FeePolicy, bool, error) {
	stored := new(storedFees)
	ok, err := m.KVGet(escrowFeesKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.FeePolicy{
		ProtectionFee: stored.ProtectionFee,
		CommissionFee: stored.CommissionFee,
	}, true, nil
}

// EscrowFeesPut stores the fee policy.
func (m *Manager) EscrowFeesPut(fees *escrow.FeePolicy) error {
	if fees == nil {
		return fmt.Errorf("escrow: nil fee policy")
	}
	if err := fees.Validate(); err != nil {
		return err
	}
	return m.KVPut(escrowFeesKey, &storedFees{
		ProtectionFee: new(big.Int).Set(fees.ProtectionFee),
		CommissionFee: new(big.Int).Set(fees.CommissionFee),
	})
}

// EscrowRolesGet loads the role bindings.
func (m *Manager) EscrowRolesGet() (*escrow.Roles, bool, error) {
	stored := new(storedRoles)
	ok, err := m.KVGet(escrowRolesKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.Roles{
		Owner:            stored.Owner,
		Marketplace:      stored.Marketplace,
		DisputeAuthority: stored.DisputeAuthority,
	}, true, nil
}

// EscrowRolesPut stores the role bindings.
func (m *Manager) EscrowRolesPut(roles *escrow.Roles) error {
	if roles == nil {
		return fmt.Errorf("escrow: nil roles")
	}
	return m.KVPut(escrowRolesKey, &storedRoles{
		Owner:            roles.Owner,
		Marketplace:      roles.Marketplace,
		DisputeAuthority: roles.DisputeAuthority,
	})
}

// EscrowPausedGet reports the persisted pause flag. A missing flag means the
// module is running.
func (m *Manager) EscrowPausedGet() (bool, error) {
	var paused bool
	if _, err := m.KVGet(escrowPausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// EscrowPausedPut persists the pause flag.
func (m *Manager) EscrowPausedPut(paused bool) error {
	return m.KVPut(escrowPausedKey, paused)
}
