package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/kis-trader/engine/internal/domain"
)

// MomentumAlgorithm drives the intraday/day-trading strategy: a
// short/long simple-moving-average crossover on whatever resolution of
// candles the engine supplies, with a tighter cycle cadence than the
// swing/auto RSI algorithm since intraday signals go stale fast.
type MomentumAlgorithm struct {
	ShortPeriod  int
	LongPeriod   int
	CycleSeconds int
}

// NewMomentumAlgorithm returns a MomentumAlgorithm with the defaults a
// day-trading session runs with: a 5/20 crossover re-evaluated every 30
// seconds.
func NewMomentumAlgorithm() *MomentumAlgorithm {
	return &MomentumAlgorithm{ShortPeriod: 5, LongPeriod: 20, CycleSeconds: 30}
}

// Analyze signals BUY on a fresh golden cross (short SMA overtakes long
// SMA this bar, was at/below it the bar before) and SELL on a fresh dead
// cross. Confidence scales with the crossover's separation relative to
// price, clamped to [0,1].
func (m *MomentumAlgorithm) Analyze(data StockData, symbol string) domain.StrategyDecision {
	need := m.LongPeriod + 1
	if len(data.Candles) < need {
		return domain.StrategyDecision{Signal: domain.SignalHold, Confidence: 0, Reason: "insufficient candle history for crossover"}
	}

	closes := make([]float64, len(data.Candles))
	for i, c := range data.Candles {
		closes[i] = c.Close
	}

	shortSMA := talib.Sma(closes, m.ShortPeriod)
	longSMA := talib.Sma(closes, m.LongPeriod)
	n := len(closes)

	shortNow, shortPrev := shortSMA[n-1], shortSMA[n-2]
	longNow, longPrev := longSMA[n-1], longSMA[n-2]
	if isNaN(shortNow) || isNaN(shortPrev) || isNaN(longNow) || isNaN(longPrev) {
		return domain.StrategyDecision{Signal: domain.SignalHold, Confidence: 0, Reason: "crossover indicator not yet warmed up"}
	}

	separation := 0.0
	if closes[n-1] > 0 {
		separation = clamp01(math.Abs(shortNow-longNow) / closes[n-1] * 20)
	}

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return domain.StrategyDecision{
			Signal:     domain.SignalBuy,
			Confidence: clamp01(0.5 + separation),
			Reason:     "short-period average crossed above long-period average",
			Indicators: map[string]float64{"short_sma": shortNow, "long_sma": longNow},
		}
	case shortPrev >= longPrev && shortNow < longNow:
		return domain.StrategyDecision{
			Signal:     domain.SignalSell,
			Confidence: clamp01(0.5 + separation),
			Reason:     "short-period average crossed below long-period average",
			Indicators: map[string]float64{"short_sma": shortNow, "long_sma": longNow},
		}
	default:
		return domain.StrategyDecision{
			Signal:     domain.SignalHold,
			Confidence: DefaultConfidence,
			Reason:     "no crossover",
			Indicators: map[string]float64{"short_sma": shortNow, "long_sma": longNow},
		}
	}
}

// CycleInterval implements CycleIntervalProvider: intraday trading
// re-evaluates far more often than the swing/auto default.
func (m *MomentumAlgorithm) CycleInterval() int {
	if m.CycleSeconds > 0 {
		return m.CycleSeconds
	}
	return 30
}

func isNaN(f float64) bool { return f != f }
