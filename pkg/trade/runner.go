package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/util"
)

// Store persists every successful apply, keyed by trade id (spec §4:
// "It is persisted by the receipt store on every successful apply"). The
// concrete implementation lives in pkg/receipt; Manager only depends on
// this narrow interface so the state machine stays decoupled from pebble.
type Store interface {
	Append(ctx context.Context, tradeID string, e envelope.Signed) error
}

// job is one envelope queued for a single trade's worker goroutine.
type job struct {
	env    envelope.Signed
	result chan<- error
}

// trader holds the live state and work queue for a single trade.
type trader struct {
	mu    sync.Mutex
	trade Trade
	queue chan job
}

// Manager runs one single-threaded worker per trade_id (spec §5: "All
// envelopes for a given trade_id are linearized through a single work
// queue. Envelopes for different trades may be processed in parallel
// without coordination"). Grounded on pkg/consensus/pacemaker.go's
// channel-driven single-goroutine-per-concern pattern, generalized from one
// global pacemaker to one worker per trade.
type Manager struct {
	mu      sync.RWMutex
	traders map[string]*trader
	store   Store
	clock   util.Clock
	queueDepth int
	onApply func(Trade)
}

// NewManager constructs a trade manager. queueDepth bounds each trade's
// work queue; 0 uses a sensible default.
func NewManager(store Store, clock util.Clock, queueDepth int) *Manager {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Manager{
		traders:    make(map[string]*trader),
		store:      store,
		clock:      clock,
		queueDepth: queueDepth,
	}
}

// SetOnApply registers a callback fired, in its own goroutine, after every
// envelope that successfully transitions a trade. It exists so an external
// driver can react to state changes (pay an invoice, create or claim an
// escrow) without making Apply itself impure (package doc, "pure function
// from (Trade, SignedEnvelope) to (Trade, error)").
func (m *Manager) SetOnApply(fn func(Trade)) {
	m.mu.Lock()
	m.onApply = fn
	m.mu.Unlock()
}

func (m *Manager) getOrCreate(tradeID string) *trader {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.traders[tradeID]
	if ok {
		return tr
	}
	tr = &trader{
		trade: CreateInitial(tradeID),
		queue: make(chan job, m.queueDepth),
	}
	m.traders[tradeID] = tr
	go m.run(tr)
	return tr
}

// run is the single goroutine owning tr.trade. It never touches another
// trade's state, so no cross-trade lock is ever taken while applying.
func (m *Manager) run(tr *trader) {
	for j := range tr.queue {
		tr.mu.Lock()
		next, err := Apply(tr.trade, j.env, m.clock.Now().Unix())
		if err == nil {
			tr.trade = next
		}
		tr.mu.Unlock()

		if err == nil && m.store != nil {
			if serr := m.store.Append(context.Background(), j.env.TradeID, j.env); serr != nil {
				err = fmt.Errorf("trade: persist receipt: %w", serr)
			}
		}
		if err == nil {
			m.mu.RLock()
			onApply := m.onApply
			m.mu.RUnlock()
			if onApply != nil {
				go onApply(next)
			}
		}
		if j.result != nil {
			j.result <- err
			close(j.result)
		}
	}
}

// Submit enqueues an envelope for its trade and blocks until it has been
// applied (or the context is cancelled). It is safe to call concurrently
// for different (or the same) trade_id from multiple goroutines.
func (m *Manager) Submit(ctx context.Context, e envelope.Signed) error {
	tr := m.getOrCreate(e.TradeID)
	result := make(chan error, 1)

	select {
	case tr.queue <- job{env: e, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current state of a trade. The zero value's
// ok is false if the trade has never received an envelope.
func (m *Manager) Snapshot(tradeID string) (Trade, bool) {
	m.mu.RLock()
	tr, ok := m.traders[tradeID]
	m.mu.RUnlock()
	if !ok {
		return Trade{}, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.trade, true
}

// Restore seeds a trade's in-memory state directly, bypassing Apply. Used
// by the receipt-replay path (pkg/receipt) to rebuild a Manager's state
// from the append-only log without re-running signature checks against
// envelopes already known-good.
func (m *Manager) Restore(t Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.traders[t.TradeID]
	if !ok {
		tr = &trader{queue: make(chan job, m.queueDepth)}
		m.traders[t.TradeID] = tr
		go m.run(tr)
	}
	tr.mu.Lock()
	tr.trade = t
	tr.mu.Unlock()
}
