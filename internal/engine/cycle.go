package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/domain"
	"github.com/kis-trader/engine/internal/strategy"
)

// runCycle implements one pass of the trading cycle. Sell outcomes are
// decided and submitted before buy outcomes, so a cycle's report always
// shows sells ahead of buys, and the sell precedence is always stop-loss
// > take-profit > strategy SELL > HOLD.
func (s *Session) runCycle(ctx context.Context) error {
	forceRefresh := s.cycleNumber == 1
	snap, err := s.manager.GetSnapshot(ctx, forceRefresh)
	if err != nil {
		return err
	}

	report := domain.CycleReport{
		CycleNumber:   s.cycleNumber,
		TakenAt:       time.Now(),
		CashBalance:   snap.CashBalance,
		PositionCount: len(snap.Positions),
	}

	sellOutcomes := s.evaluateHeldPositions(ctx, snap)
	report.SellOutcomes = sellOutcomes

	positionsAfterSells := len(snap.Positions) - closedPositionCount(sellOutcomes)
	if positionsAfterSells < s.cfg.MaxPositions {
		buyOutcomes, err := s.evaluateCandidates(ctx, snap, positionsAfterSells)
		if err != nil {
			return err
		}
		report.BuyOutcomes = buyOutcomes
	}

	s.hub.CycleCompleted(report)
	return nil
}

// closedPositionCount counts sell outcomes that actually zeroed a
// position's full held quantity — a sell limited to a partial
// SellableQuantity leaves the position open and frees no slot.
func closedPositionCount(outcomes []domain.OrderOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Result.Accepted && !o.Result.Simulated && o.PositionClosed {
			n++
		}
	}
	return n
}

func acceptedCount(outcomes []domain.OrderOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Result.Accepted {
			n++
		}
	}
	return n
}

// evaluateHeldPositions checks every held position for a sell signal,
// in stop-loss/take-profit/strategy precedence, and submits any that
// trigger.
func (s *Session) evaluateHeldPositions(ctx context.Context, snap domain.AccountSnapshot) []domain.OrderOutcome {
	outcomes := make([]domain.OrderOutcome, 0, len(snap.Positions))
	for symbol, pos := range snap.Positions {
		pos = normalizePosition(pos, s.log)
		if pos.Quantity <= 0 {
			continue
		}

		quote, err := s.client.GetQuote(ctx, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("quote fetch failed, skipping sell evaluation")
			continue
		}

		decision := s.decideSell(ctx, symbol, quote, pos)
		if decision.Signal != domain.SignalSell {
			continue
		}

		outcome := s.submitSell(ctx, symbol, quote, pos, decision)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func normalizePosition(pos domain.Position, log zerolog.Logger) domain.Position {
	if pos.AveragePrice > 0 {
		return pos
	}
	// Fall back chain: average_price, then current price, else 0 with a
	// warning — a zero-cost basis makes every profit-rate computation
	// downstream meaningless.
	if pos.CurrentPrice > 0 {
		pos.AveragePrice = pos.CurrentPrice
		return pos
	}
	log.Warn().Str("symbol", pos.Symbol).Msg("position has no average or current price, cost basis defaulting to zero")
	return pos
}

func (s *Session) decideSell(ctx context.Context, symbol string, quote broker.Quote, pos domain.Position) domain.StrategyDecision {
	profitRate := 0.0
	if pos.AveragePrice > 0 {
		profitRate = (quote.LastPrice - pos.AveragePrice) / pos.AveragePrice
	}

	if profitRate <= s.cfg.StopLossRate {
		return domain.StrategyDecision{Signal: domain.SignalSell, Confidence: 1, Reason: "stop-loss threshold reached"}
	}
	if profitRate >= s.cfg.TakeProfitRate {
		return domain.StrategyDecision{Signal: domain.SignalSell, Confidence: 1, Reason: "take-profit threshold reached"}
	}

	candles, _ := s.client.GetDailyCandles(ctx, symbol, 30)
	data := strategy.StockData{
		Symbol:       symbol,
		CurrentPrice: quote.LastPrice,
		Quote:        quote,
		Candles:      candles,
		Position:     &pos,
	}
	return s.algo.Analyze(data, symbol)
}

func (s *Session) submitSell(ctx context.Context, symbol string, quote broker.Quote, pos domain.Position, decision domain.StrategyDecision) domain.OrderOutcome {
	result, err := s.client.PlaceSellOrder(ctx, domain.OrderRequest{
		Symbol:    symbol,
		Side:      domain.Sell,
		Quantity:  pos.SellableQuantity,
		PriceMode: domain.Market,
	})
	s.manager.NotifyTradeCompleted(domain.Sell, symbol, result.Accepted && !result.Simulated)
	s.hub.OrderPlaced(domain.Sell, symbol, pos.SellableQuantity, quote.LastPrice, result)

	outcome := domain.OrderOutcome{
		Symbol:   symbol,
		Side:     domain.Sell,
		Quantity: pos.SellableQuantity,
		Price:    quote.LastPrice,
		Result:   result,
		Reason:   decision.Reason,
	}
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("sell order failed")
		outcome.Reason = decision.Reason + " (order error: " + err.Error() + ")"
		return outcome
	}
	if result.Accepted && !result.Simulated {
		realized := (quote.LastPrice - pos.AveragePrice) * float64(pos.SellableQuantity)
		outcome.RealizedPnL = &realized
		outcome.PositionClosed = pos.SellableQuantity >= pos.Quantity
	}
	return outcome
}

// evaluateCandidates runs the candidate provider, evaluates each pick
// against the strategy, and submits a buy order for anything that
// clears the confidence floor and has room under MaxPositions.
func (s *Session) evaluateCandidates(ctx context.Context, snap domain.AccountSnapshot, positionsAfterSells int) ([]domain.OrderOutcome, error) {
	if !s.sched.EntriesAllowed() {
		return nil, nil
	}

	picks, err := s.provider.SelectCandidates(ctx, snap.Positions)
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.OrderOutcome, 0, len(picks))
	for _, candidate := range picks {
		if positionsAfterSells+acceptedCount(outcomes) >= s.cfg.MaxPositions {
			break
		}

		quote, err := s.client.GetQuote(ctx, candidate.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", candidate.Symbol).Msg("quote fetch failed, skipping candidate")
			continue
		}
		candles, _ := s.client.GetDailyCandles(ctx, candidate.Symbol, 30)
		decision := s.algo.Analyze(strategy.StockData{
			Symbol:       candidate.Symbol,
			CurrentPrice: quote.LastPrice,
			Quote:        quote,
			Candles:      candles,
		}, candidate.Symbol)

		if decision.Signal != domain.SignalBuy || decision.Confidence <= s.cfg.BuyConfidenceFloor {
			continue
		}

		quantity := positionSizeQuantity(snap.AvailableCash, s.cfg.PositionSizeRatio, quote.LastPrice)
		if quantity <= 0 {
			continue
		}

		result, err := s.client.PlaceBuyOrder(ctx, domain.OrderRequest{
			Symbol:    candidate.Symbol,
			Side:      domain.Buy,
			Quantity:  quantity,
			PriceMode: domain.Market,
		})
		s.manager.NotifyTradeCompleted(domain.Buy, candidate.Symbol, result.Accepted && !result.Simulated)
		s.hub.OrderPlaced(domain.Buy, candidate.Symbol, quantity, quote.LastPrice, result)

		outcome := domain.OrderOutcome{
			Symbol:   candidate.Symbol,
			Side:     domain.Buy,
			Quantity: quantity,
			Price:    quote.LastPrice,
			Result:   result,
			Reason:   decision.Reason,
		}
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", candidate.Symbol).Msg("buy order failed")
			outcome.Reason = decision.Reason + " (order error: " + err.Error() + ")"
		} else if result.Accepted && !result.Simulated {
			// Spend the cash immediately in our own bookkeeping so the
			// next candidate in this cycle sees a reduced available_cash,
			// even before the Account State Manager's settle refresh lands.
			snap.AvailableCash -= float64(quantity) * quote.LastPrice
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// positionSizeQuantity applies the sizing formula:
// position_value = min(available_cash * ratio, available_cash);
// quantity = floor(position_value / current_price).
func positionSizeQuantity(availableCash, ratio, price float64) int {
	if price <= 0 || availableCash <= 0 {
		return 0
	}
	positionValue := availableCash * ratio
	if positionValue > availableCash {
		positionValue = availableCash
	}
	return int(math.Floor(positionValue / price))
}
