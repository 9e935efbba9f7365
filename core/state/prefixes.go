package state

import (
	"encoding/hex"
	"strconv"
)

var (
	escrowPaymentPrefix   = []byte("escrow/payment/")
	escrowPaymentCountKey = []byte("escrow/payment-count")
	escrowFeesKey         = []byte("escrow/fees")
	escrowRolesKey        = []byte("escrow/roles")
	escrowPausedKey       = []byte("escrow/paused")
	eventRecordPrefix     = []byte("events/")
	eventCountKey         = []byte("events/count")
	ledgerBalancePrefix   = []byte("ledger/balance/")
	ledgerAllowancePrefix = []byte("ledger/allowance/")
)

// EscrowPaymentKey returns the storage key of the payment with the given id.
func EscrowPaymentKey(id uint64) []byte {
	return append(append([]byte{}, escrowPaymentPrefix...), strconv.FormatUint(id, 10)...)
}

// EventRecordKey returns the storage key of the notification at seq.
func EventRecordKey(seq uint64) []byte {
	return append(append([]byte{}, eventRecordPrefix...), strconv.FormatUint(seq, 10)...)
}

// LedgerBalanceKey returns the storage key of addr's balance.
func LedgerBalanceKey(addr [20]byte) []byte {
	return append(append([]byte{}, ledgerBalancePrefix...), hex.EncodeToString(addr[:])...)
}

// LedgerAllowanceKey returns the storage key of the allowance owner granted
// to spender.
func LedgerAllowanceKey(owner, spender [20]byte) []byte {
	key := append([]byte{}, ledgerAllowancePrefix...)
	key = append(key, hex.EncodeToString(owner[:])...)
	return append(key, hex.EncodeToString(spender[:])...)
}
