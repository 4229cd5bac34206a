// Package account implements the Account State Manager: the single
// owner of one account's session-scoped AccountSnapshot, refreshed on a
// background schedule, after trade completion, and on demand, with
// concurrent refreshes coalesced into one broker call.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kis-trader/engine/internal/domain"
)

// BalanceFetcher is the subset of broker.Client the manager depends on.
// Accepting an interface here keeps this package free of a broker import
// cycle and makes the refresh path trivially testable.
type BalanceFetcher interface {
	GetAccountBalance(ctx context.Context) (domain.AccountSnapshot, error)
}

const (
	backgroundRefreshInterval = 5 * time.Minute
	shortCircuitWindow        = 1 * time.Second
	tradeSettleDelay          = 500 * time.Millisecond
)

// now is indirected through a variable so tests can control the clock
// without sleeping out a real 5-minute refresh interval.
var now = time.Now

// Manager holds the one live AccountSnapshot for an account and
// coordinates every path that can refresh it.
type Manager struct {
	fetcher BalanceFetcher
	log     zerolog.Logger

	mu       sync.RWMutex
	snapshot domain.AccountSnapshot
	have     bool

	group singleflight.Group
	sched *cron.Cron
	entry cron.EntryID
}

// New creates a Manager for account, drawing balances from fetcher.
func New(fetcher BalanceFetcher, log zerolog.Logger) *Manager {
	return &Manager{
		fetcher: fetcher,
		log:     log.With().Str("component", "account_state_manager").Logger(),
		sched:   cron.New(),
	}
}

// StartSession begins the 5-minute background refresh schedule. Callers
// should follow with an initial forced GetSnapshot so the first cycle
// does not wait for the first tick.
func (m *Manager) StartSession() {
	id, err := m.sched.AddFunc("@every 5m", func() {
		if _, err := m.refresh(context.Background(), false); err != nil {
			m.log.Warn().Err(err).Msg("background balance refresh failed, no snapshot to retain")
		}
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to schedule background balance refresh")
		return
	}
	m.entry = id
	m.sched.Start()
	m.log.Info().Dur("interval", backgroundRefreshInterval).Msg("account session started")
}

// EndSession stops the background schedule. Safe to call even if
// StartSession was never called.
func (m *Manager) EndSession() {
	ctx := m.sched.Stop()
	<-ctx.Done()
	m.log.Info().Msg("account session ended")
}

// GetSnapshot returns the current snapshot. A snapshot younger than the
// 1-second short-circuit window is returned regardless of forceRefresh
// (a rapid-fire dedup, e.g. two collaborators asking in the same
// instant); otherwise a non-forced call within the 5-minute refresh
// interval reuses the cached/background-refreshed snapshot, and only a
// forced call or a snapshot older than the interval triggers a fresh
// broker call.
func (m *Manager) GetSnapshot(ctx context.Context, forceRefresh bool) (domain.AccountSnapshot, error) {
	m.mu.RLock()
	have := m.have
	age := now().Sub(m.snapshot.TakenAt)
	rapidSuccession := have && age < shortCircuitWindow
	withinRefreshInterval := have && age < backgroundRefreshInterval
	current := m.snapshot
	m.mu.RUnlock()

	if rapidSuccession {
		return current, nil
	}
	if !forceRefresh && withinRefreshInterval {
		return current, nil
	}

	return m.refresh(ctx, true)
}

// refresh issues (or joins an in-flight) balance call. mustSucceed
// controls whether a failure is returned to the caller (true) or merely
// logged and absorbed, leaving the stale snapshot in place (false, used
// by the background schedule).
func (m *Manager) refresh(ctx context.Context, mustSucceed bool) (domain.AccountSnapshot, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		snap, err := m.fetcher.GetAccountBalance(ctx)
		if err != nil {
			return nil, err
		}
		snap.TakenAt = now()
		return snap, nil
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if m.have {
			// Retain the previous snapshot, mark it stale; the manager
			// never fabricates zeros.
			m.snapshot.Stale = true
			stale := m.snapshot
			if mustSucceed {
				return stale, err
			}
			m.log.Warn().Err(err).Msg("balance refresh failed, retaining stale snapshot")
			return stale, nil
		}
		return domain.AccountSnapshot{}, err
	}

	m.snapshot = v.(domain.AccountSnapshot)
	m.have = true
	return m.snapshot, nil
}

// HasPosition reports whether symbol is currently held.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.snapshot.Positions[symbol]
	return ok
}

// PositionQuantity returns the held quantity for symbol, or 0 if not held.
func (m *Manager) PositionQuantity(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Positions[symbol].Quantity
}

// CashBalance returns the last-known total cash balance.
func (m *Manager) CashBalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.CashBalance
}

// AvailableCash returns the last-known available (spendable) cash.
func (m *Manager) AvailableCash() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.AvailableCash
}

// PendingOrderCount returns the last-known count of pending orders.
func (m *Manager) PendingOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.PendingOrders
}

// NotifyTradeCompleted schedules a forced refresh after a brief settle
// delay, to allow the broker's own books to catch up with the fill
// before the engine reads them back.
func (m *Manager) NotifyTradeCompleted(side domain.Side, symbol string, accepted bool) {
	if !accepted {
		return
	}
	m.log.Debug().Str("symbol", symbol).Str("side", string(side)).Msg("trade completed, scheduling settle refresh")
	go func() {
		time.Sleep(tradeSettleDelay)
		if _, err := m.refresh(context.Background(), false); err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("post-trade refresh failed, no snapshot to retain")
		}
	}()
}
