package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"rentescrow/crypto"
)

// SetProtectionFee replaces the protection fee. Owner only.
func (e *Engine) SetProtectionFee(ctx context.Context, caller [20]byte, value *big.Int) error {
	return e.setFee(ctx, caller, FeeKindProtection, value)
}

// SetCommissionFee replaces the commission fee applied by later releases,
// including releases of payments created before the change. Owner only.
func (e *Engine) SetCommissionFee(ctx context.Context, caller [20]byte, value *big.Int) error {
	return e.setFee(ctx, caller, FeeKindCommission, value)
}

func (e *Engine) setFee(ctx context.Context, caller [20]byte, kind FeeKind, value *big.Int) (err error) {
	ctx, done := e.begin(ctx, opSetFee, attribute.String("escrow.fee_kind", string(kind)))
	defer done(&err)
	if e == nil || e.state == nil {
		return errNilState
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireOwner(caller); err != nil {
		return err
	}
	if err := ValidateFee(value); err != nil {
		return fmt.Errorf("%s fee: %w", kind, err)
	}
	fees, err := e.loadFees()
	if err != nil {
		return err
	}
	if err := e.state.EscrowFeesPut(fees.With(kind, value)); err != nil {
		return err
	}
	e.emit(ctx, NewFeeSetEvent(kind, value))
	e.logger.InfoContext(ctx, "escrow fee set",
		slog.String("kind", string(kind)),
		slog.String("value", value.String()))
	return nil
}

// SetMarketplace binds the marketplace orchestrator identity. Owner only.
func (e *Engine) SetMarketplace(ctx context.Context, caller, addr [20]byte) error {
	return e.setAddress(ctx, caller, RoleMarketplace, addr)
}

// SetDisputeAuthority binds the dispute authority identity. Owner only.
func (e *Engine) SetDisputeAuthority(ctx context.Context, caller, addr [20]byte) error {
	return e.setAddress(ctx, caller, RoleDisputeAuthority, addr)
}

func (e *Engine) setAddress(ctx context.Context, caller [20]byte, role Role, addr [20]byte) (err error) {
	ctx, done := e.begin(ctx, opSetAddress, attribute.String("escrow.role", role.String()))
	defer done(&err)
	if e == nil || e.state == nil {
		return errNilState
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireOwner(caller); err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return fmt.Errorf("%w: %s address must not be empty", ErrInvalidParameter, role)
	}
	next := roles.Clone()
	switch role {
	case RoleMarketplace:
		next.Marketplace = addr
	case RoleDisputeAuthority:
		next.DisputeAuthority = addr
	default:
		return fmt.Errorf("%w: role %s is not assignable", ErrInvalidParameter, role)
	}
	if err := e.state.EscrowRolesPut(next); err != nil {
		return err
	}
	e.emit(ctx, NewAddressSetEvent(role, addr))
	e.logger.InfoContext(ctx, "escrow address set",
		slog.String("role", role.String()),
		slog.String("address", crypto.AddressFromRaw(addr).String()))
	return nil
}

// SetPaused toggles the module pause flag. Owner only.
func (e *Engine) SetPaused(ctx context.Context, caller [20]byte, paused bool) (err error) {
	ctx, done := e.begin(ctx, opSetPaused, attribute.Bool("escrow.paused", paused))
	defer done(&err)
	if e == nil || e.state == nil {
		return errNilState
	}
	ctx, release := e.lock(ctx)
	defer release(&err)

	roles, err := e.loadRoles()
	if err != nil {
		return err
	}
	if err := roles.RequireOwner(caller); err != nil {
		return err
	}
	if err := e.state.EscrowPausedPut(paused); err != nil {
		return err
	}
	e.emit(ctx, NewPauseSetEvent(paused))
	e.logger.InfoContext(ctx, "escrow pause set", slog.Bool("paused", paused))
	return nil
}

// Payment returns a snapshot of the payment with the given id.
func (e *Engine) Payment(id uint64) (*Payment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPayment(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// PaymentCount returns the number of payments ever created.
func (e *Engine) PaymentCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PaymentCount()
}

// Balance returns the escrow holding balance.
func (e *Engine) Balance(ctx context.Context) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, err := e.ledger.BalanceOf(ctx, e.vault)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return cloneBigInt(bal), nil
}

// ProtectionFee returns the current protection fee.
func (e *Engine) ProtectionFee() (*big.Int, error) { return e.fee(FeeKindProtection) }

// CommissionFee returns the current commission fee.
func (e *Engine) CommissionFee() (*big.Int, error) { return e.fee(FeeKindCommission) }

func (e *Engine) fee(kind FeeKind) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	return fees.Value(kind), nil
}

// Owner returns the owner identity.
func (e *Engine) Owner() ([20]byte, error) { return e.role(RoleOwner) }

// Marketplace returns the marketplace identity, zero when unbound.
func (e *Engine) Marketplace() ([20]byte, error) { return e.role(RoleMarketplace) }

// DisputeAuthority returns the dispute authority identity, zero when unbound.
func (e *Engine) DisputeAuthority() ([20]byte, error) { return e.role(RoleDisputeAuthority) }

func (e *Engine) role(role Role) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	roles, err := e.loadRoles()
	if err != nil {
		return [20]byte{}, err
	}
	return roles.Bound(role), nil
}

// Paused reports whether lifecycle operations are currently suspended.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.EscrowPausedGet()
}
