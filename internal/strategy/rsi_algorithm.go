package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/kis-trader/engine/internal/domain"
)

// RSIAlgorithm is a simple momentum strategy: it buys oversold symbols
// and sells overbought ones, using a 14-period RSI on the daily closes
// supplied via StockData.Candles.
type RSIAlgorithm struct {
	Period       int
	OversoldAt   float64
	OverboughtAt float64
}

// NewRSIAlgorithm builds an RSIAlgorithm with the conventional 14-period
// RSI and 30/70 oversold/overbought thresholds.
func NewRSIAlgorithm() *RSIAlgorithm {
	return &RSIAlgorithm{Period: 14, OversoldAt: 30, OverboughtAt: 70}
}

// Analyze implements Algorithm.
func (r *RSIAlgorithm) Analyze(data StockData, symbol string) domain.StrategyDecision {
	closes := make([]float64, len(data.Candles))
	for i, c := range data.Candles {
		closes[i] = c.Close
	}
	if len(closes) < r.Period+1 {
		return domain.StrategyDecision{
			Signal:     domain.SignalHold,
			Confidence: 0.5,
			Reason:     "insufficient candle history for RSI",
		}
	}

	rsi := talib.Rsi(closes, r.Period)
	last := rsi[len(rsi)-1]
	if last != last { // NaN
		return domain.StrategyDecision{Signal: domain.SignalHold, Confidence: 0.5, Reason: "RSI undefined"}
	}

	indicators := map[string]float64{"rsi": last}
	switch {
	case last <= r.OversoldAt:
		confidence := (r.OversoldAt - last) / r.OversoldAt
		return domain.StrategyDecision{
			Signal:     domain.SignalBuy,
			Confidence: clamp01(0.5 + confidence),
			Reason:     fmt.Sprintf("RSI %.1f at or below oversold threshold %.1f", last, r.OversoldAt),
			Indicators: indicators,
		}
	case last >= r.OverboughtAt:
		confidence := (last - r.OverboughtAt) / (100 - r.OverboughtAt)
		return domain.StrategyDecision{
			Signal:     domain.SignalSell,
			Confidence: clamp01(0.5 + confidence),
			Reason:     fmt.Sprintf("RSI %.1f at or above overbought threshold %.1f", last, r.OverboughtAt),
			Indicators: indicators,
		}
	default:
		return domain.StrategyDecision{
			Signal:     domain.SignalHold,
			Confidence: 0.5,
			Reason:     fmt.Sprintf("RSI %.1f within neutral band", last),
			Indicators: indicators,
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
