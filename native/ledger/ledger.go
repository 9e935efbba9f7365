// Package ledger defines the token ledger capability consumed by the escrow
// engine. native/bank provides a reference implementation over core/state.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
)

// Ledger is the capability the escrow engine needs from a token ledger. Any
// implementation honouring these semantics is substitutable.
type Ledger interface {
	// BalanceOf returns the spendable balance of addr.
	BalanceOf(ctx context.Context, addr [20]byte) (*big.Int, error)
	// Approve replaces the amount spender may move out of owner's balance.
	Approve(ctx context.Context, owner, spender [20]byte, amount *big.Int) error
	// Transfer moves amount from one balance to another.
	Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error
	// TransferFrom moves amount out of from's balance on behalf of spender,
	// consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to [20]byte, amount *big.Int) error
}

// AllowanceReader is implemented by ledgers that expose the current approval
// of spender over owner's balance. The engine uses it to put a prior approval
// back when a payment fails.
type AllowanceReader interface {
	Allowance(ctx context.Context, owner, spender [20]byte) (*big.Int, error)
}
