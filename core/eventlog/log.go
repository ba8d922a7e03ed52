// Package eventlog implements the protocol's append-only, hash-chained
// event log: the sole source of truth state is folded from.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"

	"icusdprotocol/core/events"
	"icusdprotocol/internal/storage"
)

// Record is one entry in the append-only log. Hash commits to Index,
// PrevHash, Timestamp and the encoded event payload, forming a hash chain a
// verifier can walk without trusting the underlying store.
type Record struct {
	Index     uint64
	PrevHash  [32]byte
	Hash      [32]byte
	Timestamp int64
	Event     events.Event
}

// envelope is the on-disk encoding: the event's type tag plus its JSON
// payload, since events.Event is an interface and gob/json need a concrete
// type to decode into.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Log is a LevelDB-backed, hash-chained append-only sequence of events.
// Index keys are stored as fixed-width big-endian so iteration is in
// insertion order.
type Log struct {
	db       storage.Database
	nextIdx  uint64
	lastHash [32]byte
}

const keyPrefix = "evt:"

func indexKey(idx uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], idx)
	return key
}

// Open loads an existing log (or initializes an empty one) backed by db.
func Open(db storage.Database) (*Log, error) {
	l := &Log{db: db}
	if err := l.recoverTail(); err != nil {
		return nil, err
	}
	return l, nil
}

// recoverTail scans forward from index 0 to find the next free index and
// the hash of the last committed record. This is O(n) in the log length,
// as is Fold, which always replays from index 0.
func (l *Log) recoverTail() error {
	var idx uint64
	var lastHash [32]byte
	for {
		raw, err := l.db.Get(indexKey(idx))
		if err != nil {
			return err
		}
		if raw == nil {
			break
		}
		var rec storedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("eventlog: corrupt record at index %d: %w", idx, err)
		}
		lastHash = rec.Hash
		idx++
	}
	l.nextIdx = idx
	l.lastHash = lastHash
	return nil
}

// storedRecord is the JSON shape persisted for each index; Hash/PrevHash
// are hex-free raw arrays since JSON marshals [32]byte as a number array,
// which is verbose but unambiguous and avoids a base64 dependency.
type storedRecord struct {
	Index     uint64   `json:"index"`
	PrevHash  [32]byte `json:"prev_hash"`
	Hash      [32]byte `json:"hash"`
	Timestamp int64    `json:"timestamp"`
	Envelope  envelope `json:"envelope"`
}

func computeHash(idx uint64, prevHash [32]byte, timestamp int64, payload []byte) [32]byte {
	h := blake3.New(32, nil)
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], idx)
	h.Write(idxBuf[:])
	h.Write(prevHash[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	h.Write(tsBuf[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Append commits a new event to the log and returns the resulting record.
func (l *Log) Append(timestamp int64, event events.Event) (Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode event: %w", err)
	}
	env := envelope{Type: event.EventType(), Payload: payload}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode envelope: %w", err)
	}

	idx := l.nextIdx
	prevHash := l.lastHash
	hash := computeHash(idx, prevHash, timestamp, envBytes)

	stored := storedRecord{
		Index:     idx,
		PrevHash:  prevHash,
		Hash:      hash,
		Timestamp: timestamp,
		Envelope:  env,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode record: %w", err)
	}
	if err := l.db.Put(indexKey(idx), raw); err != nil {
		return Record{}, err
	}

	l.nextIdx = idx + 1
	l.lastHash = hash

	return Record{Index: idx, PrevHash: prevHash, Hash: hash, Timestamp: timestamp, Event: event}, nil
}

// Len reports the number of committed records.
func (l *Log) Len() uint64 { return l.nextIdx }

// DB exposes the backing store so sibling persistent state (the
// pending-transfer queue) can share the same database under its own key
// prefix.
func (l *Log) DB() storage.Database { return l.db }

// Tail returns the hash of the most recently committed record, or the zero
// hash if the log is empty.
func (l *Log) Tail() [32]byte { return l.lastHash }

// Range calls fn for every record with index in [from, to), in order,
// decoding each event into its concrete type via the Decoder registry.
func (l *Log) Range(from, to uint64, dec Decoder, fn func(Record) error) error {
	if to > l.nextIdx {
		to = l.nextIdx
	}
	for idx := from; idx < to; idx++ {
		raw, err := l.db.Get(indexKey(idx))
		if err != nil {
			return err
		}
		if raw == nil {
			return fmt.Errorf("eventlog: missing record at index %d", idx)
		}
		var stored storedRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("eventlog: corrupt record at index %d: %w", idx, err)
		}
		event, err := dec.Decode(stored.Envelope.Type, stored.Envelope.Payload)
		if err != nil {
			return fmt.Errorf("eventlog: decode event at index %d: %w", idx, err)
		}
		rec := Record{
			Index:     stored.Index,
			PrevHash:  stored.PrevHash,
			Hash:      stored.Hash,
			Timestamp: stored.Timestamp,
			Event:     event,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ByVault calls fn for every record in [0, Len) whose event names vaultID,
// per VaultIDOf.
func (l *Log) ByVault(vaultID uint64, dec Decoder, fn func(Record) error) error {
	return l.Range(0, l.nextIdx, dec, func(rec Record) error {
		id, ok := VaultIDOf(rec.Event)
		if !ok || id != vaultID {
			return nil
		}
		return fn(rec)
	})
}

// Fold replays the entire log in order into an accumulator via apply,
// which receives each decoded event and returns an error to abort the
// replay (e.g. on an invariant violation that should halt canister boot).
func (l *Log) Fold(dec Decoder, apply func(Record) error) error {
	return l.Range(0, l.nextIdx, dec, apply)
}

// Verify walks the full chain recomputing each record's hash from its
// stored fields, returning an error at the first mismatch. It does not
// decode events and is safe to run without a Decoder.
func (l *Log) Verify() error {
	var prevHash [32]byte
	for idx := uint64(0); idx < l.nextIdx; idx++ {
		raw, err := l.db.Get(indexKey(idx))
		if err != nil {
			return err
		}
		if raw == nil {
			return fmt.Errorf("eventlog: missing record at index %d", idx)
		}
		var stored storedRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("eventlog: corrupt record at index %d: %w", idx, err)
		}
		if stored.PrevHash != prevHash {
			return fmt.Errorf("eventlog: chain break at index %d", idx)
		}
		envBytes, err := json.Marshal(stored.Envelope)
		if err != nil {
			return err
		}
		want := computeHash(idx, stored.PrevHash, stored.Timestamp, envBytes)
		if want != stored.Hash {
			return fmt.Errorf("eventlog: hash mismatch at index %d", idx)
		}
		prevHash = stored.Hash
	}
	return nil
}
