// Package bank implements the ledger capability over the state manager. It
// backs the escrowctl tool and the end-to-end tests; production deployments
// substitute their own ledger.Ledger.
package bank

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	"rentescrow/core/events"
	corestate "rentescrow/core/state"
	"rentescrow/native/ledger"
)

// Bank is a single-asset balance and allowance book.
type Bank struct {
	state   *corestate.Manager
	asset   string
	emitter events.Emitter
}

// NewBank returns a bank for asset stored in manager.
func NewBank(manager *corestate.Manager, asset string) *Bank {
	return &Bank{
		state:   manager,
		asset:   NormalizeAsset(asset),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used for transfer notifications.
// When the call context carries an events.Batch, notifications wait for the
// batch to commit.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// NormalizeAsset folds an asset symbol to the upper-case NFKC form recorded in
// notifications, so full-width or compatibility spellings name one asset.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(asset)))
}

// Asset returns the normalised asset symbol.
func (b *Bank) Asset() string { return b.asset }

func validateAmount(amount *big.Int, allowZero bool) error {
	if amount == nil || amount.Sign() < 0 || (!allowZero && amount.Sign() == 0) {
		return fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: amount exceeds 256 bits", ledger.ErrInvalidAmount)
	}
	return nil
}

func (b *Bank) ready() error {
	if b == nil || b.state == nil {
		return fmt.Errorf("bank: state manager required")
	}
	return nil
}

// BalanceOf implements ledger.Ledger.
func (b *Bank) BalanceOf(_ context.Context, addr [20]byte) (*big.Int, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.state.LedgerBalance(addr)
}

// Allowance implements ledger.AllowanceReader.
func (b *Bank) Allowance(_ context.Context, owner, spender [20]byte) (*big.Int, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.state.LedgerAllowance(owner, spender)
}

// Approve implements ledger.Ledger. A zero amount clears the allowance.
func (b *Bank) Approve(ctx context.Context, owner, spender [20]byte, amount *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := validateAmount(amount, true); err != nil {
		return err
	}
	if err := b.state.SetLedgerAllowance(owner, spender, amount); err != nil {
		return err
	}
	events.EmitContext(ctx, b.emitter, events.Approval{Asset: b.asset, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer implements ledger.Ledger.
func (b *Bank) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := validateAmount(amount, false); err != nil {
		return err
	}
	if err := b.state.Atomic(func(tx *corestate.Manager) error {
		return move(tx, from, to, amount)
	}); err != nil {
		return err
	}
	events.EmitContext(ctx, b.emitter, events.Transfer{Asset: b.asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferFrom implements ledger.Ledger.
func (b *Bank) TransferFrom(ctx context.Context, spender, from, to [20]byte, amount *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := validateAmount(amount, false); err != nil {
		return err
	}
	if err := b.state.Atomic(func(tx *corestate.Manager) error {
		allowance, err := tx.LedgerAllowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientAllowance, allowance, amount)
		}
		if err := move(tx, from, to, amount); err != nil {
			return err
		}
		return tx.SetLedgerAllowance(from, spender, new(big.Int).Sub(allowance, amount))
	}); err != nil {
		return err
	}
	events.EmitContext(ctx, b.emitter, events.Transfer{Asset: b.asset, From: from, To: to, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits amount to addr. It is used for genesis allocations only.
func (b *Bank) Mint(ctx context.Context, to [20]byte, amount *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := validateAmount(amount, false); err != nil {
		return err
	}
	if err := b.state.Atomic(func(tx *corestate.Manager) error {
		balance, err := tx.LedgerBalance(to)
		if err != nil {
			return err
		}
		next := new(big.Int).Add(balance, amount)
		if err := validateAmount(next, false); err != nil {
			return err
		}
		return tx.SetLedgerBalance(to, next)
	}); err != nil {
		return err
	}
	events.EmitContext(ctx, b.emitter, events.Mint{Asset: b.asset, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func move(tx *corestate.Manager, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := tx.LedgerBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientBalance, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := tx.LedgerBalance(to)
	if err != nil {
		return err
	}
	if err := tx.SetLedgerBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return tx.SetLedgerBalance(to, new(big.Int).Add(toBalance, amount))
}

var (
	_ ledger.Ledger          = (*Bank)(nil)
	_ ledger.AllowanceReader = (*Bank)(nil)
)
