package pendingtransfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/types"
)

func account(b byte) types.Account {
	var principal [32]byte
	principal[0] = b
	return types.NewAccount(principal)
}

// flakyLedger fails Transfer the first failAttempts times, then succeeds;
// it records every call so a test can assert idempotent re-issue never
// double-pays.
type flakyLedger struct {
	failAttempts int
	calls        int
	sent         map[string]int // memo (the dedup id) -> number of successful sends
}

func newFlakyLedger(failAttempts int) *flakyLedger {
	return &flakyLedger{failAttempts: failAttempts, sent: make(map[string]int)}
}

func (l *flakyLedger) BalanceOf(context.Context, types.Account) (uint64, error) { return 0, nil }
func (l *flakyLedger) Allowance(context.Context, types.Account, types.Account) (uint64, error) {
	return 0, nil
}
func (l *flakyLedger) TransferFrom(context.Context, ledger.TransferFromArgs) (uint64, error) {
	return 0, nil
}

func (l *flakyLedger) Transfer(_ context.Context, args ledger.TransferArgs) (uint64, error) {
	l.calls++
	if l.calls <= l.failAttempts {
		return 0, errors.New("transient: ledger unreachable")
	}
	l.sent[string(args.Memo)]++
	return uint64(l.calls), nil
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: maxAttempts}
}

func newTestManager(t *testing.T, db storage.Database, led ledger.Ledger, policy RetryPolicy) *Manager {
	t.Helper()
	m, err := NewManager(db, led, led, account(0xAA), policy)
	require.NoError(t, err)
	return m
}

func TestEnqueueSucceedsAfterTransientFailures(t *testing.T) {
	led := newFlakyLedger(2)
	m := newTestManager(t, storage.NewMemDB(), led, fastPolicy(5))

	intent, err := m.Enqueue(context.Background(), account(1), AssetCollateral, 100)
	require.NoError(t, err)
	require.Equal(t, StatusSent, intent.Status)
	require.Equal(t, 3, led.calls)
	require.Equal(t, 1, led.sent[intent.ID])
}

func TestEnqueueSurfacesPermanentFailureAfterRetryBudget(t *testing.T) {
	led := newFlakyLedger(100) // never succeeds
	m := newTestManager(t, storage.NewMemDB(), led, fastPolicy(3))

	intent, err := m.Enqueue(context.Background(), account(1), AssetCollateral, 100)
	require.Error(t, err)
	require.Equal(t, StatusFailed, intent.Status)
	require.Equal(t, 3, intent.Attempts)

	pending := m.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, intent.ID, pending[0].ID)
}

// TestRetryIsIdempotent: re-processing the pending queue against an
// idempotent ledger yields the same final balances — re-issuing a sent
// intent's id never records a second payout.
func TestRetryIsIdempotent(t *testing.T) {
	led := newFlakyLedger(0)
	m := newTestManager(t, storage.NewMemDB(), led, fastPolicy(5))

	intent, err := m.Enqueue(context.Background(), account(1), AssetCollateral, 100)
	require.NoError(t, err)
	require.Equal(t, StatusSent, intent.Status)

	// Re-driving an already-sent intent is a no-op; Get still reports the
	// single successful send.
	_, err = m.Retry(context.Background(), intent.ID)
	require.NoError(t, err)
	got, ok := m.Get(intent.ID)
	require.True(t, ok)
	require.Equal(t, StatusSent, got.Status)
	require.Equal(t, 1, led.sent[intent.ID])
}

func TestEnqueueRoutesAssetToMatchingLedger(t *testing.T) {
	collateral := newFlakyLedger(0)
	icusd := newFlakyLedger(0)
	m, err := NewManager(storage.NewMemDB(), collateral, icusd, account(0xAA), fastPolicy(3))
	require.NoError(t, err)

	_, err = m.Enqueue(context.Background(), account(1), AssetCollateral, 10)
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), account(1), AssetICUSD, 20)
	require.NoError(t, err)

	require.Equal(t, 1, collateral.calls)
	require.Equal(t, 1, icusd.calls)
}

// TestIntentsSurviveRestart: an intent recorded before a crash is loaded
// back by a fresh manager over the same store and drained by the retry
// worker once the ledger recovers.
func TestIntentsSurviveRestart(t *testing.T) {
	db := storage.NewMemDB()
	led := newFlakyLedger(100)
	m := newTestManager(t, db, led, fastPolicy(2))

	intent, err := m.Enqueue(context.Background(), account(1), AssetCollateral, 75)
	require.Error(t, err)

	led.failAttempts = 0
	reloaded := newTestManager(t, db, led, fastPolicy(5))
	pending := reloaded.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, intent.ID, pending[0].ID)
	require.Equal(t, AssetCollateral, pending[0].Asset)
	require.Equal(t, uint64(75), pending[0].AmountE8s)

	require.NoError(t, reloaded.ProcessPending(context.Background()))
	require.Empty(t, reloaded.Pending())
	require.Equal(t, 1, led.sent[intent.ID])
}

func TestRetryUnknownIntentErrors(t *testing.T) {
	m := newTestManager(t, storage.NewMemDB(), newFlakyLedger(0), fastPolicy(5))
	_, err := m.Retry(context.Background(), "does-not-exist")
	require.Error(t, err)
}
