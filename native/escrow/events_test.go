package escrow_test

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"reflect"
	"testing"

	"rentescrow/core/types"
	escrowpkg "rentescrow/native/escrow"
)

func TestPaymentEventsHaveDeterministicPayload(t *testing.T) {
	var payer [20]byte
	copy(payer[:], bytes.Repeat([]byte{0xBB}, 20))
	var payee [20]byte
	copy(payee[:], bytes.Repeat([]byte{0xCC}, 20))

	payment := &escrowpkg.Payment{
		ID:     42,
		Payer:  payer,
		Payee:  payee,
		Amount: big.NewInt(1_000),
		Status: escrowpkg.StatusPaid,
	}
	expected := map[string]string{
		"id":     "42",
		"payer":  hex.EncodeToString(payer[:]),
		"payee":  hex.EncodeToString(payee[:]),
		"amount": "1000",
		"status": "PAID",
	}
	cases := []struct {
		name string
		fn   func(*escrowpkg.Payment) *types.Event
		typ  string
	}{
		{"created", escrowpkg.NewPaymentCreatedEvent, escrowpkg.EventTypePaymentCreated},
		{"paid", escrowpkg.NewPaymentPaidEvent, escrowpkg.EventTypePaymentPaid},
		{"refunded", escrowpkg.NewPaymentRefundedEvent, escrowpkg.EventTypePaymentRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := tc.fn(payment)
			if evt == nil {
				t.Fatalf("event function returned nil")
			}
			if evt.Type != tc.typ {
				t.Fatalf("unexpected event type: %s", evt.Type)
			}
			if !reflect.DeepEqual(evt.Attributes, expected) {
				t.Fatalf("unexpected attributes: %#v", evt.Attributes)
			}
		})
	}
}

func TestReleasedEventCarriesSplit(t *testing.T) {
	payment := &escrowpkg.Payment{ID: 1, Amount: big.NewInt(1000), Status: escrowpkg.StatusReleased}
	evt := escrowpkg.NewPaymentReleasedEvent(payment, big.NewInt(50), big.NewInt(950))
	if evt.Attributes["commission"] != "50" || evt.Attributes["net"] != "950" {
		t.Fatalf("unexpected split attributes: %#v", evt.Attributes)
	}
	if evt.Attributes["status"] != "RELEASED" {
		t.Fatalf("unexpected status: %s", evt.Attributes["status"])
	}
}

func TestInitialisedEventOmitsUnboundRoles(t *testing.T) {
	var owner [20]byte
	owner[0] = 0x01
	roles := &escrowpkg.Roles{Owner: owner}
	fees := &escrowpkg.FeePolicy{ProtectionFee: big.NewInt(3), CommissionFee: big.NewInt(7)}
	evt := escrowpkg.NewInitialisedEvent(roles, fees)
	if _, ok := evt.Attributes["marketplace"]; ok {
		t.Fatalf("unbound marketplace must be omitted")
	}
	if _, ok := evt.Attributes["disputeAuthority"]; ok {
		t.Fatalf("unbound dispute authority must be omitted")
	}
	if evt.Attributes["protectionFee"] != "3" || evt.Attributes["commissionFee"] != "7" {
		t.Fatalf("unexpected fee attributes: %#v", evt.Attributes)
	}
}

func TestAdministrativeEvents(t *testing.T) {
	var addr [20]byte
	addr[19] = 0x09
	if evt := escrowpkg.NewFeeSetEvent(escrowpkg.FeeKindCommission, big.NewInt(5)); evt.Attributes["kind"] != "commission" || evt.Attributes["value"] != "5" {
		t.Fatalf("unexpected fee event: %#v", evt.Attributes)
	}
	if evt := escrowpkg.NewAddressSetEvent(escrowpkg.RoleDisputeAuthority, addr); evt.Attributes["role"] != "dispute_authority" || evt.Attributes["address"] != hex.EncodeToString(addr[:]) {
		t.Fatalf("unexpected address event: %#v", evt.Attributes)
	}
	if evt := escrowpkg.NewPauseSetEvent(true); evt.Attributes["paused"] != "true" {
		t.Fatalf("unexpected pause event: %#v", evt.Attributes)
	}
	if evt := escrowpkg.NewWithdrawalEvent(addr, nil); evt.Attributes["amount"] != "0" {
		t.Fatalf("unexpected withdrawal event: %#v", evt.Attributes)
	}
}
