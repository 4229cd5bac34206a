// Package candidates implements the Candidate Provider: it turns the
// broker's intraday gainers ranking, filtered and scored, into a short
// list of symbols for the Trading Cycle Engine to evaluate this cycle,
// with a static theme-stock fallback when the ranking feed itself is
// unavailable and optional momentum enrichment of the composite score.
package candidates

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/domain"
)

// RankingSource is the subset of broker.Client the provider depends on.
// An interface here keeps this package decoupled from broker's transport
// details and lets tests supply a stub ranking feed.
type RankingSource interface {
	GetTopGainersRanking(ctx context.Context, limit int) ([]domain.CandidateStock, error)
}

// Filters bounds the pre-filter stage.
type Filters struct {
	MinPrice           float64
	MaxPrice           float64
	MinIntradayChange  float64
	MinVolumeRatio     float64
}

// DefaultFilters is a reasonable starting filter band.
var DefaultFilters = Filters{
	MinPrice:          5000,
	MaxPrice:          100000,
	MinIntradayChange: 5.0,
	MinVolumeRatio:    1.5,
}

const (
	rankingLimit  = 20
	maxCandidates = 10
)

// Provider produces the per-cycle evaluation shortlist.
type Provider struct {
	ranking  RankingSource
	filters  Filters
	enricher MomentumEnricher  // optional; nil disables enrichment
	themes   *ThemeSource      // optional static fallback
	prices   *YahooPriceSource // optional; prices theme-fallback candidates
	log      zerolog.Logger
}

// Option customizes a Provider at construction.
type Option func(*Provider)

// WithFilters overrides the pre-filter band.
func WithFilters(f Filters) Option {
	return func(p *Provider) { p.filters = f }
}

// WithMomentumEnrichment attaches an optional scoring enrichment stage
// (go-talib/gonum-backed, see enrich.go).
func WithMomentumEnrichment(e MomentumEnricher) Option {
	return func(p *Provider) { p.enricher = e }
}

// WithThemeFallback attaches a static theme-stock source used only when
// the ranking call returns an error (not the primary source); an empty
// but successful ranking does not trigger it.
func WithThemeFallback(t *ThemeSource) Option {
	return func(p *Provider) { p.themes = t }
}

// WithYahooPriceFallback attaches a YahooPriceSource that fills in an
// approximate last price for theme-fallback candidates, so the price
// pre-filter band (once usedFallback clears) and downstream position
// sizing have something other than zero to work with.
func WithYahooPriceFallback(y *YahooPriceSource) Option {
	return func(p *Provider) { p.prices = y }
}

// New creates a Provider. ranking must issue GetTopGainersRanking against
// the account whose endpoint exposes the feed — callers running a PAPER
// session pass a ranking source built from a LIVE-credentialed broker
// client for this one read, never reused for anything else.
func New(ranking RankingSource, log zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		ranking: ranking,
		filters: DefaultFilters,
		log:     log.With().Str("component", "candidate_provider").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrServerUnresponsive signals that the ranking feed failed and the
// session must end: the current cycle surfaces a server-unresponsive
// signal to the engine, which ends the session.
var ErrServerUnresponsive = domainServerUnresponsive{}

type domainServerUnresponsive struct{}

func (domainServerUnresponsive) Error() string { return "ranking feed unresponsive" }

// SelectCandidates returns up to 10 symbols not already in currentHoldings,
// ranked by composite score. On a ranking failure it falls back to the
// static theme universe before surfacing ErrServerUnresponsive, matching
// a session should not die merely because the gainers feed hiccuped
// while a theme list is available.
func (p *Provider) SelectCandidates(ctx context.Context, currentHoldings map[string]domain.Position) ([]domain.CandidateStock, error) {
	raw, err := p.ranking.GetTopGainersRanking(ctx, rankingLimit)
	usedFallback := false
	if err != nil {
		p.log.Warn().Err(err).Msg("ranking call failed, attempting theme fallback")
		if p.themes != nil {
			raw = p.themes.Candidates(ctx)
			usedFallback = true
		}
		if len(raw) == 0 {
			return nil, ErrServerUnresponsive
		}
		if usedFallback && p.prices != nil {
			symbols := make([]string, len(raw))
			for i, cs := range raw {
				symbols[i] = cs.Symbol
			}
			applyPriceFallback(raw, p.prices.LastCloses(symbols))
		}
	}

	filtered := make([]domain.CandidateStock, 0, len(raw))
	for _, cs := range raw {
		if _, held := currentHoldings[cs.Symbol]; held {
			continue
		}
		// The theme fallback carries no live price/volume data to filter
		// on; it's an emergency universe, not a quality-screened one.
		if !usedFallback && !p.passesFilters(cs) {
			continue
		}
		filtered = append(filtered, cs)
	}

	if p.enricher != nil {
		filtered = p.enricher.Enrich(ctx, filtered)
	}

	for i := range filtered {
		filtered[i].ProviderScore = compositeScore(filtered[i])
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ProviderScore > filtered[j].ProviderScore
	})

	if len(filtered) > maxCandidates {
		filtered = filtered[:maxCandidates]
	}
	return filtered, nil
}

func (p *Provider) passesFilters(cs domain.CandidateStock) bool {
	if cs.LastPrice < p.filters.MinPrice || cs.LastPrice > p.filters.MaxPrice {
		return false
	}
	if cs.IntradayChangeRate < p.filters.MinIntradayChange {
		return false
	}
	if cs.VolumeRatioVsPrevDay < p.filters.MinVolumeRatio {
		return false
	}
	return true
}

func compositeScore(cs domain.CandidateStock) float64 {
	base := cs.IntradayChangeRate + cs.VolumeRatioVsPrevDay
	return base + cs.ProviderScore
}
