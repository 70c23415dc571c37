// Package receipt implements the durable receipt log named as an external
// collaborator in spec §1/§6 ("the local receipt store: durable log of
// envelopes"). Every accepted envelope for a trade is appended under a
// monotonically increasing per-trade sequence number; replaying a trade's
// receipts in sequence order reconstructs it deterministically (since
// pkg/trade.Apply is pure), which is how cmd/swapd rebuilds in-memory state
// after a restart instead of trusting a snapshot.
//
// Grounded on pkg/storage/pebble_store.go: a *pebble.DB wrapped in a thin
// Go type with byte-slice keys built by small key-builder functions and
// range iteration via pebble.IterOptions bounds, generalized here from
// fixed consensus keys (b:, c:, cm) to a trade_id + big-endian sequence
// key so LoadAll can range-scan a single trade's receipts in order.
package receipt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/util"
)

const keyPrefix = "r:"

// Record pairs a stored envelope with the wall-clock time it was recorded
// at, so Rebuild can replay each receipt against the time it actually
// happened at rather than the time of the replay itself.
type Record struct {
	Envelope     envelope.Signed
	RecordedUnix int64
}

// Store is a pebble-backed append-only envelope log.
type Store struct {
	db    *pebble.DB
	clock util.Clock
}

// Open opens (creating if necessary) the receipt database at path, using
// the real wall clock to timestamp receipts.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, util.RealClock{})
}

// OpenWithClock is Open with an injectable clock, for deterministic tests.
func OpenWithClock(path string, clock util.Clock) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("receipt: open %s: %w", path, err)
	}
	return &Store{db: db, clock: clock}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// key layout: "r:" + trade_id + "\x00" + big-endian uint64 seq, so a
// range scan over [tradePrefix(id), tradeUpperBound(id)) returns a trade's
// receipts in append order.
func receiptKey(tradeID string, seq uint64) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(tradeID)+1+8)
	k = append(k, keyPrefix...)
	k = append(k, tradeID...)
	k = append(k, 0)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	return append(k, seqBuf[:]...)
}

func tradePrefix(tradeID string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(tradeID)+1)
	k = append(k, keyPrefix...)
	k = append(k, tradeID...)
	return append(k, 0)
}

func tradeUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // unreachable: prefix always ends in the sentinel 0x00 byte
}

func seqKey(tradeID string) []byte {
	return append([]byte("seq:"), tradeID...)
}

// nextSeq atomically reads-then-increments the per-trade sequence counter.
// Pebble itself has no atomic increment, so this relies on the caller
// serializing Append calls per trade_id — which pkg/trade.Manager already
// guarantees via its single worker goroutine per trade.
func (s *Store) nextSeq(tradeID string) (uint64, error) {
	val, closer, err := s.db.Get(seqKey(tradeID))
	var seq uint64
	if err == nil {
		seq = binary.BigEndian.Uint64(val)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return 0, err
	}
	next := seq + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.db.Set(seqKey(tradeID), buf[:], pebble.Sync); err != nil {
		return 0, err
	}
	return seq, nil
}

// Append stores e as the next receipt for tradeID, implementing
// pkg/trade.Store. The current clock reading is stored alongside it.
func (s *Store) Append(ctx context.Context, tradeID string, e envelope.Signed) error {
	seq, err := s.nextSeq(tradeID)
	if err != nil {
		return fmt.Errorf("receipt: allocate sequence for %s: %w", tradeID, err)
	}
	data, err := encodeRecord(e, s.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("receipt: encode envelope: %w", err)
	}
	if err := s.db.Set(receiptKey(tradeID, seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("receipt: append: %w", err)
	}
	return nil
}

// LoadAll returns every receipt recorded for tradeID, in append order.
func (s *Store) LoadAll(tradeID string) ([]Record, error) {
	prefix := tradePrefix(tradeID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: tradeUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: iterate %s: %w", tradeID, err)
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("receipt: decode receipt for %s: %w", tradeID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeRecord(e envelope.Signed, recordedUnix int64) ([]byte, error) {
	return json.Marshal(struct {
		Envelope     envelope.Signed `json:"envelope"`
		RecordedUnix int64           `json:"recorded_unix"`
	}{Envelope: e, RecordedUnix: recordedUnix})
}

func decodeRecord(b []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var wire struct {
		Envelope     envelope.Signed `json:"envelope"`
		RecordedUnix int64           `json:"recorded_unix"`
	}
	if err := dec.Decode(&wire); err != nil {
		return Record{}, err
	}
	return Record{Envelope: wire.Envelope, RecordedUnix: wire.RecordedUnix}, nil
}

// TradeIDs returns the distinct trade ids with at least one receipt, by
// scanning the full receipt key range once. Used by cmd/swapd at startup
// to discover which trades to replay.
func (s *Store) TradeIDs() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("r;"), // 'r' + 0x3b, just past the ':' separator byte range
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: iterate all: %w", err)
	}
	defer iter.Close()

	seen := make(map[string]bool)
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		rest := key[len(keyPrefix):]
		for i, b := range rest {
			if b == 0 {
				id := string(rest[:i])
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
				break
			}
		}
	}
	return ids, nil
}
