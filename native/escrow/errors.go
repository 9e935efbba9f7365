package escrow

import (
	"errors"

	"rentescrow/native/common"
)

// Failure taxonomy. Every rejected operation wraps exactly one of these and
// leaves no state behind.
var (
	ErrUnauthorized      = errors.New("escrow: unauthorized")
	ErrNotFound          = errors.New("escrow: payment not found")
	ErrInvalidState      = errors.New("escrow: invalid payment state")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrInvalidParameter  = errors.New("escrow: invalid parameter")
)

var (
	errNilState       = errors.New("escrow engine: state not configured")
	errNilLedger      = errors.New("escrow engine: ledger not configured")
	errNotInitialised = errors.New("escrow engine: genesis not applied")
)

// Reason maps an operation error onto its machine-readable rejection reason.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	default:
		return "internal"
	}
}
