package previousday

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kis-trader/engine/internal/domain"
)

type stubPlacer struct {
	result domain.OrderResult
	err    error
	calls  int
}

func (s *stubPlacer) PlaceSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.calls++
	return s.result, s.err
}

func disabledLog() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func snapshotWithOne(pos domain.Position) domain.AccountSnapshot {
	return domain.AccountSnapshot{Positions: map[string]domain.Position{pos.Symbol: pos}}
}

func TestRun_MinimalPolicyRetainsEverything(t *testing.T) {
	placer := &stubPlacer{}
	h := New(Minimal, placer, nil, disabledLog())

	snap := snapshotWithOne(domain.Position{Symbol: "005930", Quantity: 10, SellableQuantity: 10})
	decisions := h.Run(context.Background(), snap)

	require.Len(t, decisions, 1)
	assert.Equal(t, "RETAINED", decisions[0].Action)
	assert.Equal(t, 0, placer.calls)
}

func TestRun_DayTradingPolicyLiquidatesAndComputesRealPnL(t *testing.T) {
	placer := &stubPlacer{result: domain.OrderResult{Accepted: true, OrderID: "1"}}
	h := New(DayTrading, placer, nil, disabledLog())

	pos := domain.Position{Symbol: "005930", Quantity: 10, SellableQuantity: 10, AveragePrice: 50000, CurrentPrice: 55000}
	decisions := h.Run(context.Background(), snapshotWithOne(pos))

	require.Len(t, decisions, 1)
	assert.Equal(t, "LIQUIDATED", decisions[0].Action)
	assert.Equal(t, 50000.0, decisions[0].RealizedPnL)
	assert.Equal(t, 1, placer.calls)
}

func TestRun_RetentionRuleExemptsPositionUnderDayTrading(t *testing.T) {
	placer := &stubPlacer{}
	retain := func(p domain.Position) bool { return p.Symbol == "005930" }
	h := New(DayTrading, placer, retain, disabledLog())

	pos := domain.Position{Symbol: "005930", Quantity: 10, SellableQuantity: 10}
	decisions := h.Run(context.Background(), snapshotWithOne(pos))

	require.Len(t, decisions, 1)
	assert.Equal(t, "RETAINED", decisions[0].Action)
	assert.Equal(t, 0, placer.calls)
}

func TestRun_LiquidationFailureRetainsPositionInsteadOfFabricatingPnL(t *testing.T) {
	placer := &stubPlacer{err: errors.New("broker unreachable")}
	h := New(DayTrading, placer, nil, disabledLog())

	pos := domain.Position{Symbol: "005930", Quantity: 10, SellableQuantity: 10, AveragePrice: 50000, CurrentPrice: 55000}
	decisions := h.Run(context.Background(), snapshotWithOne(pos))

	require.Len(t, decisions, 1)
	assert.Equal(t, "RETAINED", decisions[0].Action)
	assert.Equal(t, 0.0, decisions[0].RealizedPnL)
}

func TestRun_SkipsZeroQuantityPositions(t *testing.T) {
	placer := &stubPlacer{}
	h := New(DayTrading, placer, nil, disabledLog())

	pos := domain.Position{Symbol: "005930", Quantity: 0}
	decisions := h.Run(context.Background(), snapshotWithOne(pos))
	assert.Empty(t, decisions)
}
