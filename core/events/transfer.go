package events

import (
	"math/big"
	"strings"

	"rentescrow/core/types"
	"rentescrow/crypto"
)

const (
	// TypeTransfer is emitted for every balance movement executed by the
	// reference ledger.
	TypeTransfer = "ledger.transfer"
	// TypeApproval is emitted when an allowance is replaced.
	TypeApproval = "ledger.approval"
	// TypeMint is emitted for genesis allocations.
	TypeMint = "ledger.mint"
)

type Transfer struct {
	Asset   string
	From    [20]byte
	To      [20]byte
	Spender [20]byte
	Amount  *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = crypto.AddressFromRaw(e.From).String()
	attrs["to"] = crypto.AddressFromRaw(e.To).String()
	if !zeroBytes(e.Spender[:]) {
		attrs["spender"] = crypto.AddressFromRaw(e.Spender).String()
	}
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Asset   string
	Owner   [20]byte
	Spender [20]byte
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	attrs := map[string]string{
		"owner":   crypto.AddressFromRaw(e.Owner).String(),
		"spender": crypto.AddressFromRaw(e.Spender).String(),
		"amount":  formatAmount(e.Amount),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeApproval, Attributes: attrs}
}

type Mint struct {
	Asset  string
	To     [20]byte
	Amount *big.Int
}

func (Mint) EventType() string { return TypeMint }

func (e Mint) Event() *types.Event {
	attrs := map[string]string{
		"to":     crypto.AddressFromRaw(e.To).String(),
		"amount": formatAmount(e.Amount),
	}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = normalizeAsset(asset)
	}
	return &types.Event{Type: TypeMint, Attributes: attrs}
}
