package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"icusdprotocol/numeric"
	"icusdprotocol/types"
)

func account(b byte) types.Account {
	var principal [32]byte
	principal[0] = b
	return types.NewAccount(principal)
}

func TestRegistryInsertAndGet(t *testing.T) {
	r := NewRegistry()
	id := r.insert(Vault{Owner: account(1), CollateralE8s: 100, DebtE8s: 50})

	v, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, uint64(100), v.CollateralE8s)
	require.Equal(t, uint64(50), v.DebtE8s)

	collateral, debt := r.Totals()
	require.Equal(t, uint64(100), collateral)
	require.Equal(t, uint64(50), debt)
}

func TestRegistryOwnedBy(t *testing.T) {
	r := NewRegistry()
	owner := account(2)
	id1 := r.insert(Vault{Owner: owner, CollateralE8s: 10})
	id2 := r.insert(Vault{Owner: owner, CollateralE8s: 20})
	r.insert(Vault{Owner: account(3), CollateralE8s: 30})

	ids := r.OwnedBy(owner)
	require.ElementsMatch(t, []uint64{id1, id2}, ids)
}

func TestRegistryMutateUpdatesTotals(t *testing.T) {
	r := NewRegistry()
	id := r.insert(Vault{Owner: account(1), CollateralE8s: 100, DebtE8s: 50})

	updated, ok := r.mutate(id, func(v *Vault) { v.DebtE8s += 25 })
	require.True(t, ok)
	require.Equal(t, uint64(75), updated.DebtE8s)

	_, debt := r.Totals()
	require.Equal(t, uint64(75), debt)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	owner := account(1)
	id := r.insert(Vault{Owner: owner, CollateralE8s: 100, DebtE8s: 50})

	removed, ok := r.remove(id)
	require.True(t, ok)
	require.Equal(t, uint64(100), removed.CollateralE8s)

	_, ok = r.Get(id)
	require.False(t, ok)
	require.Empty(t, r.OwnedBy(owner))

	collateral, debt := r.Totals()
	require.Zero(t, collateral)
	require.Zero(t, debt)
}

func TestRegistrySortedByRatioAscendingDebtFreeLast(t *testing.T) {
	r := NewRegistry()
	price := numeric.PriceFromE8s(10 * 1_0000_0000)

	healthy := r.insert(Vault{Owner: account(1), CollateralE8s: 20 * 1_0000_0000, DebtE8s: 100 * 1_0000_0000}) // ratio 2.0
	unhealthy := r.insert(Vault{Owner: account(2), CollateralE8s: 11 * 1_0000_0000, DebtE8s: 100 * 1_0000_0000}) // ratio 1.1
	debtFree := r.insert(Vault{Owner: account(3), CollateralE8s: 5 * 1_0000_0000, DebtE8s: 0})

	ids, err := r.SortedByRatio(price)
	require.NoError(t, err)
	require.Equal(t, []uint64{unhealthy, healthy, debtFree}, ids)
}

func TestRegistryAddAndReduceDebtAndCollateral(t *testing.T) {
	r := NewRegistry()
	id := r.insert(Vault{Owner: account(1), CollateralE8s: 100, DebtE8s: 50})

	r.AddDebtAndCollateral(id, 10, 20)
	v, _ := r.Get(id)
	require.Equal(t, uint64(60), v.DebtE8s)
	require.Equal(t, uint64(120), v.CollateralE8s)

	r.ReduceDebtAndCollateral(id, 1000, 1000) // over-reduce clamps at zero
	v, _ = r.Get(id)
	require.Zero(t, v.DebtE8s)
	require.Zero(t, v.CollateralE8s)
}

func TestRegistryLen(t *testing.T) {
	r := NewRegistry()
	require.Zero(t, r.Len())
	r.insert(Vault{Owner: account(1), CollateralE8s: 1})
	require.Equal(t, 1, r.Len())
}

func TestVaultCollateralRatioNoDebtIsInfinite(t *testing.T) {
	v := Vault{CollateralE8s: 100, DebtE8s: 0}
	_, hasDebt, err := v.CollateralRatio(numeric.PriceFromE8s(1_0000_0000))
	require.NoError(t, err)
	require.False(t, hasDebt)
}
