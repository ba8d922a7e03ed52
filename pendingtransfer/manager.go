// Package pendingtransfer implements the idempotent outbound-transfer
// queue every ledger payout (vault withdrawals, redemption proceeds,
// liquidation surplus, stability pool principal and gains) is routed
// through: the intent is recorded durably before the ledger call is
// issued, transient failures retry with exponential backoff, and a
// scheduled worker re-drives whatever the ledger has not yet confirmed.
package pendingtransfer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/types"
)

// Asset names which ledger an intent pays out on.
type Asset string

const (
	AssetCollateral Asset = "icp"
	AssetICUSD      Asset = "icusd"
)

// Status is a pending transfer's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed" // retry budget exhausted; the record survives for re-drive
)

// Intent records a transfer the protocol has committed to make before it
// is attempted, so a crash between commit and send leaves a durable record
// to resume from rather than a silently lost payout.
type Intent struct {
	ID        string        `json:"id"`
	To        types.Account `json:"to"`
	Asset     Asset         `json:"asset"`
	AmountE8s uint64        `json:"amount_e8s"`
	Attempts  int           `json:"attempts"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// RetryPolicy configures the backoff schedule retried transfers follow.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is sized for ledger round-trip latency.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    60 * time.Second,
	MaxAttempts: 8,
}

const (
	intentKeyPrefix = "pti:"
	intentIndexKey  = "pti-index"
)

func intentKey(id string) []byte {
	return []byte(intentKeyPrefix + id)
}

// Manager queues and retries outbound transfers on the collateral and
// icUSD ledgers. Intents are persisted under their own key prefix in the
// same store that backs the event log; a record is removed from the store
// only once the ledger confirms the send. A permanent failure is surfaced
// to the caller (it affects the user's funds), with the record retained
// for the retry worker or an operator to re-drive.
type Manager struct {
	mu         sync.Mutex
	db         storage.Database
	collateral ledger.Ledger
	icusd      ledger.Ledger
	from       types.Account
	policy     RetryPolicy
	intents    map[string]*Intent
}

// NewManager constructs a Manager backed by db for intent durability and
// the two ledgers it pays out on. Unconfirmed intents recorded by a
// previous process are loaded back into the queue for re-drive.
func NewManager(db storage.Database, collateral, icusd ledger.Ledger, from types.Account, policy RetryPolicy) (*Manager, error) {
	m := &Manager{
		db:         db,
		collateral: collateral,
		icusd:      icusd,
		from:       from,
		policy:     policy,
		intents:    make(map[string]*Intent),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	raw, err := m.db.Get([]byte(intentIndexKey))
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("pendingtransfer: corrupt intent index: %w", err)
	}
	for _, id := range ids {
		rawIntent, err := m.db.Get(intentKey(id))
		if err != nil {
			return err
		}
		if rawIntent == nil {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(rawIntent, &intent); err != nil {
			return fmt.Errorf("pendingtransfer: corrupt intent %s: %w", id, err)
		}
		m.intents[id] = &intent
	}
	return nil
}

// persistLocked writes an intent's current state and, for a new id, links
// it into the durable index. Callers hold m.mu.
func (m *Manager) persistLocked(intent *Intent, isNew bool) error {
	raw, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	if err := m.db.Put(intentKey(intent.ID), raw); err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	return m.writeIndexLocked()
}

// writeIndexLocked rewrites the durable id index from the unconfirmed
// intents. Callers hold m.mu.
func (m *Manager) writeIndexLocked() error {
	ids := make([]string, 0, len(m.intents))
	for id, intent := range m.intents {
		if intent.Status == StatusSent {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return m.db.Put([]byte(intentIndexKey), raw)
}

func (m *Manager) ledgerFor(asset Asset) ledger.Ledger {
	if asset == AssetICUSD {
		return m.icusd
	}
	return m.collateral
}

// Enqueue durably records a transfer intent and then issues it, retrying
// with exponential backoff on transient failure. The record hits the store
// before the first ledger call, so a crash mid-send leaves the intent for
// the retry worker rather than a lost payout. It blocks until the transfer
// succeeds or the retry budget is exhausted; either way the record
// survives until the ledger confirms it.
func (m *Manager) Enqueue(ctx context.Context, to types.Account, asset Asset, amountE8s uint64) (*Intent, error) {
	intent := &Intent{
		ID:        uuid.NewString(),
		To:        to,
		Asset:     asset,
		AmountE8s: amountE8s,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.intents[intent.ID] = intent
	err := m.persistLocked(intent, true)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("pendingtransfer: record intent: %w", err)
	}

	return intent, m.attempt(ctx, intent)
}

// Retry re-attempts a recorded intent by id, resetting an exhausted retry
// budget. Used by an operator tool and by ProcessPending; an already-sent
// intent is a no-op.
func (m *Manager) Retry(ctx context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	intent, ok := m.intents[id]
	if ok && intent.Status == StatusFailed {
		intent.Status = StatusPending
		intent.Attempts = 0
	}
	m.mu.Unlock()
	if !ok {
		return nil, errIntentNotFound
	}
	if intent.Status == StatusSent {
		return intent, nil
	}
	return intent, m.attempt(ctx, intent)
}

// ProcessPending re-drives every intent the ledger has not confirmed,
// returning the first error encountered. The daemon runs it on a schedule;
// re-issuing an already-sent id is safe because the ledger deduplicates on
// the intent id carried in the memo.
func (m *Manager) ProcessPending(ctx context.Context) error {
	var firstErr error
	for _, intent := range m.Pending() {
		if _, err := m.Retry(ctx, intent.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

// Get looks up a recorded intent by its dedup id.
func (m *Manager) Get(id string) (*Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	return intent, ok
}

// Pending returns every intent not yet confirmed by the ledger.
func (m *Manager) Pending() []*Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Intent
	for _, intent := range m.intents {
		if intent.Status != StatusSent {
			out = append(out, intent)
		}
	}
	return out
}

func (m *Manager) attempt(ctx context.Context, intent *Intent) error {
	led := m.ledgerFor(intent.Asset)
	backoff := m.policy.BaseDelay
	for {
		intent.Attempts++
		_, err := led.Transfer(ctx, ledger.TransferArgs{
			From: m.from, To: intent.To, AmountE8s: intent.AmountE8s, Memo: []byte(intent.ID),
		})
		if err == nil {
			m.markSent(intent)
			return nil
		}
		if intent.Attempts >= m.policy.MaxAttempts {
			m.mu.Lock()
			intent.Status = StatusFailed
			perr := m.persistLocked(intent, false)
			m.mu.Unlock()
			if perr != nil {
				return perr
			}
			return err
		}
		m.mu.Lock()
		if perr := m.persistLocked(intent, false); perr != nil {
			m.mu.Unlock()
			return perr
		}
		m.mu.Unlock()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, m.policy.MaxDelay)
	}
}

// markSent drops the confirmed intent from the durable store. A failed
// delete only risks one redundant re-send, which the ledger's own memo
// dedup absorbs.
func (m *Manager) markSent(intent *Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent.Status = StatusSent
	_ = m.db.Delete(intentKey(intent.ID))
	_ = m.writeIndexLocked()
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
