package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusPaid}:  true,
		{StatusPaid, StatusReleased}: true,
		{StatusPaid, StatusRefunded}: true,
	}
	all := []Status{StatusPending, StatusPaid, StatusReleased, StatusRefunded}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, !got, got)
			}
		}
	}
	require.True(t, StatusReleased.Terminal())
	require.True(t, StatusRefunded.Terminal())
	require.False(t, StatusPaid.Terminal())
	require.False(t, Status(9).Valid())
	require.Equal(t, "STATUS(9)", Status(9).String())
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusPaid, StatusReleased, StatusRefunded} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	parsed, err := ParseStatus(" paid ")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, parsed)
	_, err = ParseStatus("CANCELLED")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestPaymentCloneIsDeep(t *testing.T) {
	p := &Payment{ID: 1, Amount: big.NewInt(10)}
	clone := p.Clone()
	clone.Amount.SetInt64(99)
	require.Equal(t, "10", p.Amount.String())
	require.Nil(t, (*Payment)(nil).Clone())
}

func TestFeePolicySplitRelease(t *testing.T) {
	fees := &FeePolicy{ProtectionFee: big.NewInt(5), CommissionFee: big.NewInt(50)}

	net, commission, err := fees.SplitRelease(big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "950", net.String())
	require.Equal(t, "50", commission.String())

	net, _, err = fees.SplitRelease(big.NewInt(50))
	require.NoError(t, err)
	require.Zero(t, net.Sign())

	_, _, err = fees.SplitRelease(big.NewInt(49))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestFeePolicyWithLeavesOriginal(t *testing.T) {
	fees := &FeePolicy{ProtectionFee: big.NewInt(5), CommissionFee: big.NewInt(50)}
	next := fees.With(FeeKindCommission, big.NewInt(70))
	require.Equal(t, "50", fees.CommissionFee.String())
	require.Equal(t, "70", next.CommissionFee.String())
	require.Equal(t, "5", next.Value(FeeKindProtection).String())

	require.NoError(t, fees.Validate())
	require.Error(t, (&FeePolicy{ProtectionFee: big.NewInt(1)}).Validate())
	require.Error(t, (*FeePolicy)(nil).Validate())

	kind, err := ParseFeeKind("protection")
	require.NoError(t, err)
	require.Equal(t, FeeKindProtection, kind)
	_, err = ParseFeeKind("tax")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestRolesGate(t *testing.T) {
	owner, market, dispute := newTestAddress(1), newTestAddress(2), newTestAddress(3)
	roles := &Roles{Owner: owner, Marketplace: market, DisputeAuthority: dispute}

	require.NoError(t, roles.RequireOwner(owner))
	require.ErrorIs(t, roles.RequireOwner(market), ErrUnauthorized)
	require.NoError(t, roles.RequireMarketplace(market))
	require.ErrorIs(t, roles.RequireMarketplace(dispute), ErrUnauthorized)
	require.NoError(t, roles.RequireMarketplaceOrDispute(market))
	require.NoError(t, roles.RequireMarketplaceOrDispute(dispute))
	require.ErrorIs(t, roles.RequireMarketplaceOrDispute(owner), ErrUnauthorized)

	unbound := &Roles{Owner: owner}
	require.False(t, unbound.Has(RoleMarketplace, [20]byte{}))

	for _, name := range []string{"dispute", "dispute_authority", "dispute-authority"} {
		role, err := ParseRole(name)
		require.NoError(t, err)
		require.Equal(t, RoleDisputeAuthority, role)
	}
	_, err := ParseRole("admin")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReasonTaxonomy(t *testing.T) {
	require.Equal(t, "", Reason(nil))
	require.Equal(t, "unauthorized", Reason(ErrUnauthorized))
	require.Equal(t, "invalid_state", Reason(ErrInvalidState))
	require.Equal(t, "invalid_parameter", Reason(ErrInvalidParameter))
	require.Equal(t, "insufficient_funds", Reason(ErrInsufficientFunds))
	require.Equal(t, "internal", Reason(errors.New("disk")))
}
