package candidates

import (
	"context"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/domain"
)

// CandleSource is the subset of broker.Client a MomentumEnricher needs to
// pull recent daily closes for a symbol.
type CandleSource interface {
	GetDailyCandles(ctx context.Context, symbol string, count int) ([]broker.Candle, error)
}

// MomentumEnricher adds a momentum-derived adjustment to each candidate's
// ProviderScore before the composite sort. It is optional: a Provider
// built without one falls back to the raw change-rate/volume-ratio score.
type MomentumEnricher interface {
	Enrich(ctx context.Context, candidates []domain.CandidateStock) []domain.CandidateStock
}

const (
	rsiLookback    = 14
	candleHistory  = 30
	rsiOverbought  = 70.0
	rsiPenalty     = 0.5
	volStablePenal = 0.25
)

// TalibEnricher scores momentum with RSI(14) and recent-return volatility,
// penalizing candidates that are already overbought (RSI >= 70) or whose
// daily-return standard deviation exceeds a fixed 5%.
type TalibEnricher struct {
	candles CandleSource
}

// NewTalibEnricher builds a MomentumEnricher backed by the given candle
// source (typically a broker.Client bound to the provider's own account).
func NewTalibEnricher(candles CandleSource) *TalibEnricher {
	return &TalibEnricher{candles: candles}
}

// Enrich mutates ProviderScore in place, then returns the same slice.
// A candidate whose candle history cannot be fetched is left unscored
// (ProviderScore 0) rather than dropped — a single symbol's bad history
// should not shrink the shortlist.
func (e *TalibEnricher) Enrich(ctx context.Context, cs []domain.CandidateStock) []domain.CandidateStock {
	for i, c := range cs {
		candles, err := e.candles.GetDailyCandles(ctx, c.Symbol, candleHistory)
		if err != nil || len(candles) < rsiLookback+1 {
			continue
		}

		closes := make([]float64, len(candles))
		for j, candle := range candles {
			closes[j] = candle.Close
		}

		rsi := talib.Rsi(closes, rsiLookback)
		last := rsi[len(rsi)-1]

		returns := make([]float64, len(closes)-1)
		for j := 1; j < len(closes); j++ {
			if closes[j-1] != 0 {
				returns[j-1] = (closes[j] - closes[j-1]) / closes[j-1]
			}
		}
		vol := stat.StdDev(returns, nil)

		var adj float64
		if last == last && last >= rsiOverbought { // last == last filters NaN
			adj -= rsiPenalty
		}
		if vol > 0.05 {
			adj -= volStablePenal
		}
		cs[i].ProviderScore = adj
	}
	return cs
}
