package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"rentescrow/core/types"
)

const (
	EventTypeInitialised     = "escrow.initialised"
	EventTypePaymentCreated  = "escrow.payment.created"
	EventTypePaymentPaid     = "escrow.payment.paid"
	EventTypePaymentReleased = "escrow.payment.released"
	EventTypePaymentRefunded = "escrow.payment.refunded"
	EventTypeWithdrawal      = "escrow.withdrawal"
	EventTypeFeeSet          = "escrow.fee.set"
	EventTypeAddressSet      = "escrow.address.set"
	EventTypePauseSet        = "escrow.pause.set"
)

// NewPaymentCreatedEvent returns the canonical payload for a newly created
// payment.
func NewPaymentCreatedEvent(p *Payment) *types.Event {
	return newPaymentEvent(EventTypePaymentCreated, p)
}

// NewPaymentPaidEvent returns the payload emitted once the payer has funded
// the escrow.
func NewPaymentPaidEvent(p *Payment) *types.Event { return newPaymentEvent(EventTypePaymentPaid, p) }

// NewPaymentReleasedEvent carries the gross amount plus the commission kept
// and the net amount credited to the payee.
func NewPaymentReleasedEvent(p *Payment, commission, net *big.Int) *types.Event {
	evt := newPaymentEvent(EventTypePaymentReleased, p)
	evt.Attributes["commission"] = cloneBigInt(commission).String()
	evt.Attributes["net"] = cloneBigInt(net).String()
	return evt
}

// NewPaymentRefundedEvent returns the payload for a full refund to the payer.
func NewPaymentRefundedEvent(p *Payment) *types.Event {
	return newPaymentEvent(EventTypePaymentRefunded, p)
}

// NewWithdrawalEvent records an owner sweep of the escrow holding balance.
func NewWithdrawalEvent(to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawal, Attributes: map[string]string{
		"to":     encodeAddress(to),
		"amount": cloneBigInt(amount).String(),
	}}
}

// NewFeeSetEvent records a fee replacement.
func NewFeeSetEvent(kind FeeKind, value *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFeeSet, Attributes: map[string]string{
		"kind":  string(kind),
		"value": cloneBigInt(value).String(),
	}}
}

// NewAddressSetEvent records a role binding change.
func NewAddressSetEvent(role Role, addr [20]byte) *types.Event {
	return &types.Event{Type: EventTypeAddressSet, Attributes: map[string]string{
		"role":    role.String(),
		"address": encodeAddress(addr),
	}}
}

// NewPauseSetEvent records the module pause flag.
func NewPauseSetEvent(paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseSet, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

// NewInitialisedEvent records the genesis configuration so the notification
// log alone is enough to rebuild roles and fees.
func NewInitialisedEvent(roles *Roles, fees *FeePolicy) *types.Event {
	attrs := map[string]string{
		"owner":         encodeAddress(roles.Owner),
		"protectionFee": fees.Value(FeeKindProtection).String(),
		"commissionFee": fees.Value(FeeKindCommission).String(),
	}
	if roles.Marketplace != ([20]byte{}) {
		attrs["marketplace"] = encodeAddress(roles.Marketplace)
	}
	if roles.DisputeAuthority != ([20]byte{}) {
		attrs["disputeAuthority"] = encodeAddress(roles.DisputeAuthority)
	}
	return &types.Event{Type: EventTypeInitialised, Attributes: attrs}
}

func newPaymentEvent(eventType string, p *Payment) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(p.ID, 10)
	attrs["payer"] = encodeAddress(p.Payer)
	attrs["payee"] = encodeAddress(p.Payee)
	attrs["amount"] = cloneBigInt(p.Amount).String()
	attrs["status"] = p.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

func encodeAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func decodeAddress(value string) ([20]byte, bool) {
	var out [20]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(out) {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }
