package escrow_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"rentescrow/core/events"
	corestate "rentescrow/core/state"
	"rentescrow/native/bank"
	escrowpkg "rentescrow/native/escrow"
	"rentescrow/storage"
)

func address(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type stack struct {
	engine *escrowpkg.Engine
	bank   *bank.Bank
	log    *events.Log
	state  *corestate.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	mgr := corestate.NewManager(db)
	log, err := events.NewLog(mgr)
	require.NoError(t, err)

	b := bank.NewBank(mgr, "usd")
	b.SetEmitter(log)
	engine := escrowpkg.NewEngine()
	engine.SetState(mgr)
	engine.SetLedger(b)
	engine.SetEmitter(log)
	return &stack{engine: engine, bank: b, log: log, state: mgr}
}

func TestEndToEndLifecycleReplays(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	owner, market, dispute := address(1), address(2), address(3)
	tenant, landlord := address(0x10), address(0x20)

	require.NoError(t, s.bank.Mint(ctx, tenant, big.NewInt(5000)))
	require.NoError(t, s.engine.InitGenesis(ctx, escrowpkg.Genesis{
		Owner:            owner,
		Marketplace:      market,
		DisputeAuthority: dispute,
		ProtectionFee:    big.NewInt(10),
		CommissionFee:    big.NewInt(50),
	}))

	released, err := s.engine.Create(ctx, market, tenant, landlord, big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, s.engine.Pay(ctx, market, released))
	require.NoError(t, s.engine.Release(ctx, market, released))

	refunded, err := s.engine.Create(ctx, dispute, tenant, landlord, big.NewInt(400))
	require.NoError(t, err)
	require.NoError(t, s.engine.Pay(ctx, market, refunded))
	require.NoError(t, s.engine.Refund(ctx, dispute, refunded))

	pending, err := s.engine.Create(ctx, market, tenant, landlord, big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, s.engine.SetCommissionFee(ctx, owner, big.NewInt(75)))

	landlordBalance, err := s.bank.BalanceOf(ctx, landlord)
	require.NoError(t, err)
	require.Equal(t, "950", landlordBalance.String())
	tenantBalance, err := s.bank.BalanceOf(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, "4000", tenantBalance.String())

	records, err := s.log.Records(0)
	require.NoError(t, err)
	snap, err := escrowpkg.Replay(records)
	require.NoError(t, err)
	require.Len(t, snap.Payments, 3)
	require.Equal(t, escrowpkg.StatusReleased, snap.Payments[released].Status)
	require.Equal(t, escrowpkg.StatusRefunded, snap.Payments[refunded].Status)
	require.Equal(t, escrowpkg.StatusPending, snap.Payments[pending].Status)
	require.Equal(t, owner, snap.Roles.Owner)
	require.Equal(t, "75", snap.Fees.CommissionFee.String())
	require.Equal(t, "50", snap.HoldingBalance.String())
	require.Equal(t, "50", snap.Commission.String())

	held, err := s.engine.Balance(ctx)
	require.NoError(t, err)
	require.Zero(t, held.Cmp(snap.HoldingBalance))

	swept, err := s.engine.Withdraw(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "50", swept.String())

	records, err = s.log.Records(0)
	require.NoError(t, err)
	snap, err = escrowpkg.Replay(records)
	require.NoError(t, err)
	require.Zero(t, snap.HoldingBalance.Sign())
	require.Equal(t, "50", snap.Withdrawn.String())

	// The persisted log resumes with the same head.
	resumed, err := events.NewLog(s.state)
	require.NoError(t, err)
	require.Equal(t, s.log.Head(), resumed.Head())
}

func TestReplayRejectsTampering(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	owner, market := address(1), address(2)
	tenant, landlord := address(0x10), address(0x20)
	require.NoError(t, s.bank.Mint(ctx, tenant, big.NewInt(100)))
	require.NoError(t, s.engine.InitGenesis(ctx, escrowpkg.Genesis{
		Owner: owner, Marketplace: market,
		ProtectionFee: big.NewInt(1), CommissionFee: big.NewInt(1),
	}))
	id, err := s.engine.Create(ctx, market, tenant, landlord, big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, s.engine.Pay(ctx, market, id))

	records, err := s.log.Records(0)
	require.NoError(t, err)
	for _, rec := range records {
		if rec.Event.Type == escrowpkg.EventTypePaymentPaid {
			rec.Event.Attributes["amount"] = "1"
		}
	}
	_, err = escrowpkg.Replay(records)
	require.ErrorIs(t, err, events.ErrChainBroken)
}

func TestReplayRejectsImpossibleTransitions(t *testing.T) {
	payer, payee := address(0x10), address(0x20)
	payment := &escrowpkg.Payment{ID: 0, Payer: payer, Payee: payee, Amount: big.NewInt(100), Status: escrowpkg.StatusPending}

	cases := map[string]func(log *events.Log){
		"release before pay": func(log *events.Log) {
			_, _ = log.Append(escrowpkg.NewPaymentCreatedEvent(payment))
			released := payment.Clone()
			released.Status = escrowpkg.StatusReleased
			_, _ = log.Append(escrowpkg.NewPaymentReleasedEvent(released, big.NewInt(0), big.NewInt(100)))
		},
		"id out of sequence": func(log *events.Log) {
			skipped := payment.Clone()
			skipped.ID = 1
			_, _ = log.Append(escrowpkg.NewPaymentCreatedEvent(skipped))
		},
		"amount changed": func(log *events.Log) {
			_, _ = log.Append(escrowpkg.NewPaymentCreatedEvent(payment))
			paid := payment.Clone()
			paid.Status = escrowpkg.StatusPaid
			paid.Amount = big.NewInt(1)
			_, _ = log.Append(escrowpkg.NewPaymentPaidEvent(paid))
		},
		"over withdrawal": func(log *events.Log) {
			_, _ = log.Append(escrowpkg.NewWithdrawalEvent(payer, big.NewInt(1)))
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			log, err := events.NewLog(nil)
			require.NoError(t, err)
			build(log)
			records, err := log.Records(0)
			require.NoError(t, err)
			_, err = escrowpkg.Replay(records)
			require.True(t, errors.Is(err, escrowpkg.ErrInvalidState), "got %v", err)
		})
	}
}

func initStack(t *testing.T, s *stack, owner, market, dispute [20]byte) {
	t.Helper()
	require.NoError(t, s.engine.InitGenesis(context.Background(), escrowpkg.Genesis{
		Owner:            owner,
		Marketplace:      market,
		DisputeAuthority: dispute,
		ProtectionFee:    big.NewInt(10),
		CommissionFee:    big.NewInt(50),
	}))
}

func TestWithdrawStrandsPaidPayments(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	owner, market, dispute := address(1), address(2), address(3)
	tenant, landlord := address(0x10), address(0x20)
	require.NoError(t, s.bank.Mint(ctx, tenant, big.NewInt(5000)))
	initStack(t, s, owner, market, dispute)

	id, err := s.engine.Create(ctx, market, tenant, landlord, big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, s.engine.Pay(ctx, market, id))

	swept, err := s.engine.Withdraw(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "1000", swept.String())

	before := s.log.Len()
	err = s.engine.Release(ctx, market, id)
	require.ErrorIs(t, err, escrowpkg.ErrInsufficientFunds)
	require.Equal(t, "insufficient_funds", escrowpkg.Reason(err))
	err = s.engine.Refund(ctx, dispute, id)
	require.ErrorIs(t, err, escrowpkg.ErrInsufficientFunds)
	require.Equal(t, "insufficient_funds", escrowpkg.Reason(err))
	require.Equal(t, before, s.log.Len())

	p, err := s.engine.Payment(id)
	require.NoError(t, err)
	require.Equal(t, escrowpkg.StatusPaid, p.Status)
	ownerBalance, err := s.bank.BalanceOf(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "1000", ownerBalance.String())
}

func TestRejectedPayLeavesLogAndAllowanceUntouched(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	owner, market := address(1), address(2)
	tenant, landlord, elsewhere := address(0x10), address(0x20), address(0x30)
	require.NoError(t, s.bank.Mint(ctx, tenant, big.NewInt(1000)))
	initStack(t, s, owner, market, address(3))

	id, err := s.engine.Create(ctx, market, tenant, landlord, big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, s.bank.Approve(ctx, tenant, s.engine.Vault(), big.NewInt(25)))
	require.NoError(t, s.bank.Transfer(ctx, tenant, elsewhere, big.NewInt(1000)))

	before := s.log.Len()
	head := s.log.Head()
	err = s.engine.Pay(ctx, market, id)
	require.ErrorIs(t, err, escrowpkg.ErrInsufficientFunds)
	require.Equal(t, before, s.log.Len())
	require.Equal(t, head, s.log.Head())

	allowance, err := s.bank.Allowance(ctx, tenant, s.engine.Vault())
	require.NoError(t, err)
	require.Equal(t, "25", allowance.String())
	p, err := s.engine.Payment(id)
	require.NoError(t, err)
	require.Equal(t, escrowpkg.StatusPending, p.Status)

	// A successful payment still publishes its ledger movements with it.
	require.NoError(t, s.bank.Transfer(ctx, elsewhere, tenant, big.NewInt(1000)))
	before = s.log.Len()
	require.NoError(t, s.engine.Pay(ctx, market, id))
	records, err := s.log.Records(before)
	require.NoError(t, err)
	kinds := make([]string, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec.Event.Type)
	}
	require.Equal(t, []string{events.TypeApproval, events.TypeTransfer, escrowpkg.EventTypePaymentPaid}, kinds)
}
