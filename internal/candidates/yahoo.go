package candidates

import (
	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"

	"github.com/kis-trader/engine/internal/domain"
)

// YahooPriceSource fills in an approximate last price for theme-fallback
// candidates (see themes.go), which otherwise carry no live price data at
// all. It is deliberately not used for the primary ranking path — the
// broker's own quote is always authoritative there.
type YahooPriceSource struct {
	log zerolog.Logger
}

// NewYahooPriceSource builds a YahooPriceSource.
func NewYahooPriceSource(log zerolog.Logger) *YahooPriceSource {
	return &YahooPriceSource{log: log.With().Str("component", "yahoo_price_source").Logger()}
}

// krxSuffix is the Yahoo Finance market suffix for KRX-listed symbols.
const krxSuffix = ".KS"

// LastCloses returns the most recent close price Yahoo Finance reports for
// each of symbols (KIS 6-digit codes), keyed by the original symbol. A
// symbol Yahoo cannot resolve is simply absent from the result — callers
// must treat a missing entry the same as "price unknown", never as zero.
func (y *YahooPriceSource) LastCloses(symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return nil
	}

	yahooSymbols := make([]string, 0, len(symbols))
	toOriginal := make(map[string]string, len(symbols))
	for _, s := range symbols {
		ys := s + krxSuffix
		yahooSymbols = append(yahooSymbols, ys)
		toOriginal[ys] = s
	}

	params := models.DefaultDownloadParams()
	params.Symbols = yahooSymbols
	params.Period = "5d"
	params.Interval = "1d"

	result, err := multi.Download(yahooSymbols, &params)
	if err != nil {
		y.log.Warn().Err(err).Msg("yahoo batch download failed, theme candidates stay unpriced")
		return nil
	}

	out := make(map[string]float64, len(symbols))
	for ys, bars := range result.Data {
		original, ok := toOriginal[ys]
		if !ok || len(bars) == 0 {
			continue
		}
		out[original] = bars[len(bars)-1].Close
	}
	for ys, fetchErr := range result.Errors {
		if original, ok := toOriginal[ys]; ok {
			y.log.Warn().Err(fetchErr).Str("symbol", original).Msg("yahoo quote fetch failed for theme candidate")
		}
	}
	return out
}

// applyPriceFallback fills LastPrice on any candidate still carrying a
// zero price, using quotes already resolved by LastCloses.
func applyPriceFallback(candidates []domain.CandidateStock, quotes map[string]float64) {
	for i := range candidates {
		if candidates[i].LastPrice > 0 {
			continue
		}
		if price, ok := quotes[candidates[i].Symbol]; ok {
			candidates[i].LastPrice = price
		}
	}
}
