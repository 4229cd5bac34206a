// Package previousday implements the Previous-Day Balance Handler: the
// first-pass liquidation/retain policy applied once, at session start,
// to any position carried over from a prior day.
package previousday

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/domain"
)

// Policy selects what happens to a carried-over position on session
// start.
type Policy string

const (
	// Minimal retains every carried-over position untouched.
	Minimal Policy = "MINIMAL"
	// DayTrading liquidates every carried-over position at market unless
	// a retention rule matches it.
	DayTrading Policy = "DAY_TRADING"
)

// OrderPlacer is the narrow broker dependency this handler needs: a
// market sell, nothing else.
type OrderPlacer interface {
	PlaceSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// RetentionRule decides whether a position should be retained even under
// the DayTrading policy (e.g. a symbol explicitly exempted by the
// operator).
type RetentionRule func(domain.Position) bool

// Decision records what happened to one carried-over position, destined
// for the CycleReport's initial section.
type Decision struct {
	Symbol      string
	Action      string // "RETAINED" or "LIQUIDATED"
	Quantity    int
	RealizedPnL float64 // only meaningful when Action == "LIQUIDATED"
	Reason      string
	OrderResult *domain.OrderResult
}

// Handler applies a Policy to a snapshot's positions at session start.
type Handler struct {
	policy Policy
	broker OrderPlacer
	retain RetentionRule
	log    zerolog.Logger
}

// New builds a Handler. retain may be nil, meaning no exemptions.
func New(policy Policy, broker OrderPlacer, retain RetentionRule, log zerolog.Logger) *Handler {
	return &Handler{
		policy: policy,
		broker: broker,
		retain: retain,
		log:    log.With().Str("component", "previous_day_handler").Logger(),
	}
}

// Run applies the configured policy to every position in snapshot and
// returns one Decision per position, in symbol order. Orders flow
// through the API Client exactly as in normal cycles — liquidation uses
// PlaceSellOrder for the position's full sellable quantity.
//
// Realized PnL is computed from the position's own average price and
// current price, never a placeholder: a prior implementation this was
// modeled on substituted a synthetic "sold_count * 1000" value here,
// which this handler deliberately does not reproduce.
func (h *Handler) Run(ctx context.Context, snapshot domain.AccountSnapshot) []Decision {
	symbols := make([]string, 0, len(snapshot.Positions))
	for symbol := range snapshot.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	decisions := make([]Decision, 0, len(symbols))
	for _, symbol := range symbols {
		pos := snapshot.Positions[symbol]
		if pos.Quantity <= 0 {
			continue
		}
		decisions = append(decisions, h.decide(ctx, symbol, pos))
	}
	return decisions
}

func (h *Handler) decide(ctx context.Context, symbol string, pos domain.Position) Decision {
	if h.policy == Minimal || (h.retain != nil && h.retain(pos)) {
		return Decision{
			Symbol:   symbol,
			Action:   "RETAINED",
			Quantity: pos.Quantity,
			Reason:   "retention policy",
		}
	}

	result, err := h.broker.PlaceSellOrder(ctx, domain.OrderRequest{
		Symbol:    symbol,
		Side:      domain.Sell,
		Quantity:  pos.SellableQuantity,
		PriceMode: domain.Market,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", symbol).Msg("previous-day liquidation order failed")
		return Decision{
			Symbol:   symbol,
			Action:   "RETAINED",
			Quantity: pos.Quantity,
			Reason:   "liquidation order failed, position retained",
		}
	}

	realizedPnL := (pos.CurrentPrice - pos.AveragePrice) * float64(pos.SellableQuantity)
	return Decision{
		Symbol:      symbol,
		Action:      "LIQUIDATED",
		Quantity:    pos.SellableQuantity,
		RealizedPnL: realizedPnL,
		Reason:      "day-trading policy liquidation",
		OrderResult: &result,
	}
}
