package redemption

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/feeengine"
	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/numeric"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/types"
	"icusdprotocol/vault"
)

func account(b byte) types.Account {
	var principal [32]byte
	principal[0] = b
	return types.NewAccount(principal)
}

type routerFixture struct {
	registry   *vault.Registry
	icusd      *ledger.MemLedger
	collateral *ledger.MemLedger
	router     *Router
	events     []events.Event
	protocol   types.Account
	developer  types.Account
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		registry:   vault.NewRegistry(),
		icusd:      ledger.NewMemLedger(),
		collateral: ledger.NewMemLedger(),
		protocol:   account(0xAA),
		developer:  account(0xDD),
	}
	pending, err := pendingtransfer.NewManager(storage.NewMemDB(), f.collateral, f.icusd, f.protocol, pendingtransfer.RetryPolicy{
		BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2,
	})
	require.NoError(t, err)

	f.router = NewRouter(f.registry, f.icusd, pending, Params{
		FeeCurve:            feeengine.Curve{MinBps: 50, MaxBps: 500},
		DeveloperFeeAccount: f.developer,
	}, f.protocol, func(_ context.Context, e events.Event) error {
		f.events = append(f.events, e)
		return nil
	})
	return f
}

// TestRedeemReducesLowestRatioVaultFirst: V1 (CR 2.0) is drained before
// V2 (CR 3.33) even though both are above the underwater threshold.
func TestRedeemReducesLowestRatioVaultFirst(t *testing.T) {
	f := newRouterFixture(t)
	v1ID := f.registry.Insert(vault.Vault{Owner: account(1), CollateralE8s: 1*1_0000_0000, DebtE8s: 5*1_0000_0000})
	v2ID := f.registry.Insert(vault.Vault{Owner: account(2), CollateralE8s: 2*1_0000_0000, DebtE8s: 6*1_0000_0000})

	redeemer := account(3)
	f.icusd.Credit(redeemer, 4*1_0000_0000)
	f.collateral.Credit(f.protocol, 10*1_0000_0000)

	price := numeric.PriceFromE8s(10*1_0000_0000)
	net, err := f.router.Redeem(context.Background(), redeemer, 4*1_0000_0000, price, time.Now(), 11*1_0000_0000)
	require.NoError(t, err)

	v1, ok := f.registry.Get(v1ID)
	require.True(t, ok)
	v2, ok := f.registry.Get(v2ID)
	require.True(t, ok)

	// V1's debt drops from 5 to 1 icUSD; V2 is untouched.
	require.Equal(t, uint64(1*1_0000_0000), v1.DebtE8s)
	require.Equal(t, uint64(6*1_0000_0000), v2.DebtE8s)
	require.Equal(t, uint64(2*1_0000_0000), v2.CollateralE8s)

	// 4 icUSD burned at price 10 => 0.4 ICP gross, fee 0.5% of 0.4 = 0.002,
	// net = 0.398 ICP paid to the redeemer.
	require.InDelta(t, 0.398*1_0000_0000, float64(net), 1000)

	wantV1Collateral := 1*1_0000_0000 - int64(0.398*1_0000_0000)
	require.InDelta(t, wantV1Collateral, int64(v1.CollateralE8s), 1000)

	var sawRedemption, sawTransfer bool
	for _, e := range f.events {
		if _, ok := e.(events.RedemptionOnVaults); ok {
			sawRedemption = true
		}
		if _, ok := e.(events.RedemptionTransfered); ok {
			sawTransfer = true
		}
	}
	require.True(t, sawRedemption)
	require.True(t, sawTransfer)
}

func TestRedeemSkipsUnderwaterVaults(t *testing.T) {
	f := newRouterFixture(t)
	underwaterID := f.registry.Insert(vault.Vault{Owner: account(1), CollateralE8s: 1*1_0000_0000, DebtE8s: 20*1_0000_0000}) // CR 0.5 at price 10
	healthyID := f.registry.Insert(vault.Vault{Owner: account(2), CollateralE8s: 5*1_0000_0000, DebtE8s: 10*1_0000_0000})

	redeemer := account(3)
	f.icusd.Credit(redeemer, 5*1_0000_0000)
	f.collateral.Credit(f.protocol, 10*1_0000_0000)

	price := numeric.PriceFromE8s(10*1_0000_0000)
	_, err := f.router.Redeem(context.Background(), redeemer, 5*1_0000_0000, price, time.Now(), 30*1_0000_0000)
	require.NoError(t, err)

	underwater, _ := f.registry.Get(underwaterID)
	healthy, _ := f.registry.Get(healthyID)
	require.Equal(t, uint64(20*1_0000_0000), underwater.DebtE8s, "underwater vault must not be touched")
	require.Less(t, healthy.DebtE8s, uint64(10*1_0000_0000))
}

func TestRedeemRejectsZeroAmount(t *testing.T) {
	f := newRouterFixture(t)
	price := numeric.PriceFromE8s(10*1_0000_0000)
	_, err := f.router.Redeem(context.Background(), account(1), 0, price, time.Now(), 0)
	require.ErrorIs(t, err, protoerrors.ErrAmountTooLow)
}

func TestRedeemRejectsBelowMinimumRedeemAmount(t *testing.T) {
	f := newRouterFixture(t)
	f.router.params.MinRedeemE8s = 5 * 1_0000_0000
	price := numeric.PriceFromE8s(10 * 1_0000_0000)
	_, err := f.router.Redeem(context.Background(), account(1), 5*1_0000_0000-1, price, time.Now(), 0)
	require.ErrorIs(t, err, protoerrors.ErrAmountTooLow)
}

func TestRedeemAcceptsExactlyMinimumRedeemAmount(t *testing.T) {
	f := newRouterFixture(t)
	f.router.params.MinRedeemE8s = 5 * 1_0000_0000
	f.registry.Insert(vault.Vault{Owner: account(1), CollateralE8s: 5 * 1_0000_0000, DebtE8s: 10 * 1_0000_0000})

	redeemer := account(3)
	f.icusd.Credit(redeemer, 5*1_0000_0000)
	f.collateral.Credit(f.protocol, 10*1_0000_0000)

	price := numeric.PriceFromE8s(10 * 1_0000_0000)
	_, err := f.router.Redeem(context.Background(), redeemer, 5*1_0000_0000, price, time.Now(), 10*1_0000_0000)
	require.NoError(t, err)
}

func TestRedeemRejectsAnonymousCaller(t *testing.T) {
	f := newRouterFixture(t)
	price := numeric.PriceFromE8s(10*1_0000_0000)
	_, err := f.router.Redeem(context.Background(), types.Account{}, 1, price, time.Now(), 0)
	require.ErrorIs(t, err, protoerrors.ErrAnonymousCallerNotAllowed)
}
