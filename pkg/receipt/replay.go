package receipt

import (
	"fmt"

	"github.com/interswap/swapd/pkg/trade"
)

// Rebuild replays a trade's persisted receipts in order through
// trade.Apply, reconstructing the Trade a restarted swapd had in memory
// before it exited. Because Apply is pure and idempotent, replaying the
// exact sequence recorded by Append against each receipt's own recorded
// time always reproduces the same state, regardless of how long the
// process was down.
func (s *Store) Rebuild(tradeID string) (trade.Trade, error) {
	recs, err := s.LoadAll(tradeID)
	if err != nil {
		return trade.Trade{}, fmt.Errorf("receipt: rebuild %s: %w", tradeID, err)
	}
	t := trade.CreateInitial(tradeID)
	for i, rec := range recs {
		var applyErr error
		t, applyErr = trade.Apply(t, rec.Envelope, rec.RecordedUnix)
		if applyErr != nil {
			return trade.Trade{}, fmt.Errorf("receipt: rebuild %s: receipt %d (%s) replayed inconsistently: %w", tradeID, i, rec.Envelope.Kind, applyErr)
		}
	}
	return t, nil
}
