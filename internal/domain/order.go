package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PriceMode selects market vs limit execution. The engine only ever
// submits MARKET orders; LIMIT is modeled for completeness of the
// broker client's typed surface and for strategies that compute a
// reference limit price without routing through it.
type PriceMode string

const (
	Market PriceMode = "MARKET"
	Limit  PriceMode = "LIMIT"
)

// OrderRequest describes an order the API Client is asked to place.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   int
	PriceMode  PriceMode
	LimitPrice float64 // zero for MARKET
}

// SymbolPattern-shaped validation lives in broker, since it is part of
// the transport contract: an order is refused before submission when
// the symbol is not a 6-character code.

// OrderResult is the outcome of a single order placement.
type OrderResult struct {
	Accepted      bool
	OrderID       string
	BrokerCode    string
	BrokerMessage string
	Raw           map[string]any
	// Simulated marks a synthetic acknowledgment produced by the
	// diagnostic feature switch: downstream state logic must never apply
	// a fill for a simulated result.
	Simulated bool
}

// Position is one held symbol in the account.
type Position struct {
	Symbol            string
	DisplayName       string
	Quantity          int
	SellableQuantity  int
	AveragePrice      float64
	CurrentPrice      float64
	EvaluationAmount  float64
	UnrealizedPnL     float64
	UnrealizedPnLRate float64
}

// AccountSnapshot is the session-scoped view of cash, holdings and pending
// orders, owned exclusively by the Account State Manager.
type AccountSnapshot struct {
	TakenAt         time.Time
	CashBalance     float64
	AvailableCash   float64
	TotalEvaluation float64
	RealizedPnL     float64
	PnLRate         float64
	Positions       map[string]Position
	PendingOrders   int
	// Stale is set on the retained previous snapshot when a refresh
	// attempt fails; a later successful refresh replaces it unflagged.
	Stale bool
}

// Fresh reports whether the snapshot was taken within interval of now.
func (s AccountSnapshot) Fresh(now time.Time, interval time.Duration) bool {
	return now.Sub(s.TakenAt) < interval
}

// CandidateStock is a single-cycle evaluation candidate.
type CandidateStock struct {
	Symbol               string
	DisplayName          string
	LastPrice            float64
	IntradayChangeRate   float64
	Volume               int64
	VolumeRatioVsPrevDay float64
	ProviderScore        float64
}

// Signal is a strategy's trading recommendation for one symbol.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// StrategyDecision is the normalized, defensive output of a strategy.
type StrategyDecision struct {
	Signal     Signal
	Confidence float64
	Reason     string
	Indicators map[string]float64
}

// OrderOutcome records one order attempted during a cycle, successful or
// not, for inclusion in a CycleReport.
type OrderOutcome struct {
	Symbol      string
	Side        Side
	Quantity    int
	Price       float64
	Result      OrderResult
	RealizedPnL *float64 // only set for sell outcomes with a known cost basis
	Reason      string
	// PositionClosed marks a sell outcome that sold the position's entire
	// held quantity, not merely its sellable portion — only this kind of
	// sell frees a slot under max_positions.
	PositionClosed bool
}

// CycleReport summarizes one pass of the Trading Cycle Engine.
type CycleReport struct {
	CycleNumber   int
	TakenAt       time.Time
	CashBalance   float64
	PositionCount int
	SellOutcomes  []OrderOutcome
	BuyOutcomes   []OrderOutcome
	SessionStats  map[string]any
}

// ProcessSnapshot is a lightweight health reading attached to session
// bookend and error telemetry events, so an external monitor can tell a
// goroutine leak or memory growth from the event stream alone, without
// the engine owning a full health subsystem.
type ProcessSnapshot struct {
	GoroutineCount int
	RSSBytes       uint64
}
