package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/domain"
)

func candlesFromClosesMomentum(closes []float64) []broker.Candle {
	out := make([]broker.Candle, len(closes))
	for i, c := range closes {
		out[i] = broker.Candle{Close: c}
	}
	return out
}

func TestMomentumAlgorithm_HoldsOnInsufficientHistory(t *testing.T) {
	algo := NewMomentumAlgorithm()
	data := StockData{Candles: candlesFromClosesMomentum([]float64{100, 101, 102})}
	decision := algo.Analyze(data, "005930")
	assert.Equal(t, domain.SignalHold, decision.Signal)
}

func TestMomentumAlgorithm_BuysOnGoldenCross(t *testing.T) {
	algo := &MomentumAlgorithm{ShortPeriod: 2, LongPeriod: 4}
	// Flat, then a one-bar dip (short SMA drops under long SMA), then a
	// sharp bounce that lifts the short SMA back above the long SMA on the
	// final bar — a clean golden cross.
	closes := []float64{100, 100, 100, 100, 95, 110}
	data := StockData{Candles: candlesFromClosesMomentum(closes)}
	decision := algo.Analyze(data, "005930")
	assert.Equal(t, domain.SignalBuy, decision.Signal)
	assert.Greater(t, decision.Confidence, 0.0)
}

func TestMomentumAlgorithm_DefaultCycleIntervalIsShortForIntradayUse(t *testing.T) {
	algo := NewMomentumAlgorithm()
	assert.Equal(t, 30, algo.CycleInterval())
	assert.Less(t, algo.CycleInterval(), DefaultCycleIntervalSeconds)
}
