package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"rentescrow/core/events"
	"rentescrow/native/escrow"
	"rentescrow/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db), db
}

func addr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestKVRoundTripAndHashedKeys(t *testing.T) {
	mgr, db := newTestManager(t)

	require.NoError(t, mgr.KVPut([]byte("escrow/payment-count"), uint64(7)))
	var got uint64
	ok, err := mgr.KVGet([]byte("escrow/payment-count"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), got)

	for _, key := range db.Keys() {
		require.Len(t, key, 32)
	}

	ok, err = mgr.KVGet([]byte("missing"), &got)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.KVGet(nil, &got)
	require.Error(t, err)
	require.Error(t, mgr.KVPut(nil, uint64(1)))
}

func TestAtomicCommitsOrDiscards(t *testing.T) {
	mgr, _ := newTestManager(t)

	failure := errors.New("boom")
	err := mgr.Atomic(func(tx *Manager) error {
		require.NoError(t, tx.KVPut([]byte("a"), uint64(1)))
		var staged uint64
		ok, err := tx.KVGet([]byte("a"), &staged)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1), staged)
		return failure
	})
	require.ErrorIs(t, err, failure)
	ok, err := mgr.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.Atomic(func(tx *Manager) error {
		if err := tx.KVPut([]byte("a"), uint64(2)); err != nil {
			return err
		}
		return tx.Atomic(func(inner *Manager) error {
			return inner.KVDelete([]byte("b"))
		})
	}))
	var value uint64
	ok, err = mgr.KVGet([]byte("a"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), value)
}

func TestPaymentTable(t *testing.T) {
	mgr, _ := newTestManager(t)

	count, err := mgr.PaymentCount()
	require.NoError(t, err)
	require.Zero(t, count)

	p := &escrow.Payment{ID: 0, Payer: addr(1), Payee: addr(2), Amount: big.NewInt(1000), Status: escrow.StatusPending}
	require.NoError(t, mgr.PaymentAppend(p))
	require.Error(t, mgr.PaymentAppend(&escrow.Payment{ID: 5, Amount: big.NewInt(1)}))

	count, err = mgr.PaymentCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	stored, ok, err := mgr.PaymentGet(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.Payer, stored.Payer)
	require.Equal(t, p.Payee, stored.Payee)
	require.Equal(t, 0, stored.Amount.Cmp(big.NewInt(1000)))
	require.Equal(t, escrow.StatusPending, stored.Status)

	stored.Status = escrow.StatusPaid
	require.NoError(t, mgr.PaymentPut(stored))
	reloaded, ok, err := mgr.PaymentGet(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.StatusPaid, reloaded.Status)

	require.Error(t, mgr.PaymentPut(&escrow.Payment{ID: 1, Amount: big.NewInt(1)}))
	_, ok, err = mgr.PaymentGet(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEscrowConfigRecords(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, ok, err := mgr.EscrowFeesGet()
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = mgr.EscrowRolesGet()
	require.NoError(t, err)
	require.False(t, ok)
	paused, err := mgr.EscrowPausedGet()
	require.NoError(t, err)
	require.False(t, paused)

	fees := &escrow.FeePolicy{ProtectionFee: big.NewInt(10), CommissionFee: big.NewInt(50)}
	require.NoError(t, mgr.EscrowFeesPut(fees))
	require.Error(t, mgr.EscrowFeesPut(&escrow.FeePolicy{ProtectionFee: big.NewInt(0), CommissionFee: big.NewInt(1)}))
	loaded, ok, err := mgr.EscrowFeesGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10", loaded.ProtectionFee.String())
	require.Equal(t, "50", loaded.CommissionFee.String())

	roles := &escrow.Roles{Owner: addr(9), Marketplace: addr(8)}
	require.NoError(t, mgr.EscrowRolesPut(roles))
	loadedRoles, ok, err := mgr.EscrowRolesGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, *roles, *loadedRoles)

	require.NoError(t, mgr.EscrowPausedPut(true))
	paused, err = mgr.EscrowPausedGet()
	require.NoError(t, err)
	require.True(t, paused)
}

func TestEventStoreBacksLog(t *testing.T) {
	mgr, _ := newTestManager(t)

	log, err := events.NewLog(mgr)
	require.NoError(t, err)
	_, err = log.Append(escrow.NewPauseSetEvent(true))
	require.NoError(t, err)
	_, err = log.Append(escrow.NewFeeSetEvent(escrow.FeeKindCommission, big.NewInt(25)))
	require.NoError(t, err)

	count, err := mgr.EventCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	resumed, err := events.NewLog(mgr)
	require.NoError(t, err)
	require.Equal(t, log.Head(), resumed.Head())

	records, err := resumed.Records(0)
	require.NoError(t, err)
	require.NoError(t, events.VerifyChain(records))
	require.Equal(t, escrow.EventTypeFeeSet, records[1].Event.Type)
	require.Equal(t, "25", records[1].Event.Attributes["value"])

	require.Error(t, mgr.EventAppend(&events.Record{Sequence: 9}))
}

func TestLedgerBalances(t *testing.T) {
	mgr, _ := newTestManager(t)

	balance, err := mgr.LedgerBalance(addr(1))
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, mgr.SetLedgerBalance(addr(1), big.NewInt(500)))
	require.NoError(t, mgr.SetLedgerAllowance(addr(1), addr(2), big.NewInt(40)))
	require.Error(t, mgr.SetLedgerBalance(addr(1), big.NewInt(-1)))

	balance, err = mgr.LedgerBalance(addr(1))
	require.NoError(t, err)
	require.Equal(t, "500", balance.String())
	allowance, err := mgr.LedgerAllowance(addr(1), addr(2))
	require.NoError(t, err)
	require.Equal(t, "40", allowance.String())
	other, err := mgr.LedgerAllowance(addr(2), addr(1))
	require.NoError(t, err)
	require.Zero(t, other.Sign())

	require.NoError(t, mgr.SetLedgerBalance(addr(1), big.NewInt(0)))
	ok, err := mgr.KVGet(LedgerBalanceKey(addr(1)), nil)
	require.NoError(t, err)
	require.False(t, ok)
}
