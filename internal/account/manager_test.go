package account

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kis-trader/engine/internal/domain"
)

type stubFetcher struct {
	mu       sync.Mutex
	calls    int32
	snapshot domain.AccountSnapshot
	err      error
	delay    time.Duration
}

func (s *stubFetcher) GetAccountBalance(ctx context.Context) (domain.AccountSnapshot, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.AccountSnapshot{}, s.err
	}
	return s.snapshot, nil
}

func disabledLog() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func TestGetSnapshot_ForceRefreshFetchesFromBroker(t *testing.T) {
	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	snap, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, snap.CashBalance)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetcher.calls))
}

func TestGetSnapshot_ShortCircuitsWithinOneSecond(t *testing.T) {
	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	snap, err := m.GetSnapshot(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, snap.CashBalance)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetcher.calls), "second call within 1s must not refetch")
}

func TestGetSnapshot_ConcurrentRefreshesAreCoalesced(t *testing.T) {
	fetcher := &stubFetcher{
		snapshot: domain.AccountSnapshot{CashBalance: 1000},
		delay:    50 * time.Millisecond,
	}
	m := New(fetcher, disabledLog())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetSnapshot(context.Background(), true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.calls), int32(2), "concurrent force-refreshes must coalesce into at most a couple of broker calls")
}

func TestGetSnapshot_RetainsStaleSnapshotOnFailure(t *testing.T) {
	original := now
	current := time.Now()
	now = func() time.Time { return current }
	defer func() { now = original }()

	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.err = fmt.Errorf("broker unreachable")
	fetcher.mu.Unlock()

	current = current.Add(backgroundRefreshInterval + time.Second) // age past the 5-minute refresh interval
	snap, err := m.GetSnapshot(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, 1000.0, snap.CashBalance, "the manager never fabricates zeros")
	assert.True(t, snap.Stale)
}

func TestGetSnapshot_NonForcedCallWithinRefreshIntervalReusesCache(t *testing.T) {
	original := now
	current := time.Now()
	now = func() time.Time { return current }
	defer func() { now = original }()

	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute) // past the 1s short-circuit window, well within the 5-minute interval
	snap, err := m.GetSnapshot(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, snap.CashBalance)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetcher.calls), "a cycle-start call 2 minutes after the last refresh must reuse the cached snapshot, not refetch")
}

func TestNotifyTradeCompleted_TriggersDelayedRefresh(t *testing.T) {
	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.snapshot.CashBalance = 2000
	fetcher.mu.Unlock()

	m.NotifyTradeCompleted(domain.Buy, "005930", true)
	time.Sleep(700 * time.Millisecond)

	snap, err := m.GetSnapshot(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, snap.CashBalance)
}

func TestNotifyTradeCompleted_IgnoredWhenNotAccepted(t *testing.T) {
	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{CashBalance: 1000}}
	m := New(fetcher, disabledLog())

	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	m.NotifyTradeCompleted(domain.Buy, "005930", false)
	time.Sleep(700 * time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fetcher.calls))
}

func TestHasPositionAndAccessors(t *testing.T) {
	fetcher := &stubFetcher{snapshot: domain.AccountSnapshot{
		CashBalance:   500,
		AvailableCash: 400,
		PendingOrders: 2,
		Positions: map[string]domain.Position{
			"005930": {Symbol: "005930", Quantity: 10},
		},
	}}
	m := New(fetcher, disabledLog())
	_, err := m.GetSnapshot(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, m.HasPosition("005930"))
	assert.Equal(t, 10, m.PositionQuantity("005930"))
	assert.False(t, m.HasPosition("000660"))
	assert.Equal(t, 0, m.PositionQuantity("000660"))
	assert.Equal(t, 500.0, m.CashBalance())
	assert.Equal(t, 400.0, m.AvailableCash())
	assert.Equal(t, 2, m.PendingOrderCount())
}
