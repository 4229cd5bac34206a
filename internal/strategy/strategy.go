// Package strategy implements the Strategy Adapter: a uniform decision
// interface over pluggable trading algorithms, with defensive coercion
// so a misbehaving algorithm degrades to HOLD rather than crashing a
// cycle.
package strategy

import (
	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/domain"
)

// StockData is the per-symbol market snapshot an Algorithm analyzes.
type StockData struct {
	Symbol       string
	CurrentPrice float64
	Quote        broker.Quote
	Candles      []broker.Candle
	Position     *domain.Position // nil if not currently held
}

// Algorithm is the single required method every strategy must implement.
type Algorithm interface {
	Analyze(data StockData, symbol string) domain.StrategyDecision
}

// CycleIntervalProvider is an optional hook: a strategy may dictate its
// own inter-cycle sleep duration in seconds.
type CycleIntervalProvider interface {
	CycleInterval() int
}

// StopController is an optional hook letting a strategy veto further
// trading without ending the process.
type StopController interface {
	ShouldStopTrading() bool
}

// SessionNarrator is an optional hook for human-readable session
// bookends; Adapter.OnAlgorithmStart/OnAlgorithmEnd return its string
// as-is. The engine's Session does not call these hooks.
type SessionNarrator interface {
	OnAlgorithmStart(account domain.Account, balance domain.AccountSnapshot, stats map[string]any) string
	OnAlgorithmEnd(account domain.Account, balance domain.AccountSnapshot, stats map[string]any) string
}

const (
	// DefaultCycleIntervalSeconds is used when an algorithm does not
	// implement CycleIntervalProvider.
	DefaultCycleIntervalSeconds = 120
	// DefaultConfidence replaces a confidence outside [0,1] in Coerce; a
	// zero confidence is kept as given.
	DefaultConfidence = 0.5
)

// Adapter wraps a raw Algorithm with defensive coercion and optional
// hook defaults.
type Adapter struct {
	algo Algorithm
}

// New wraps algo in an Adapter.
func New(algo Algorithm) *Adapter {
	return &Adapter{algo: algo}
}

// Analyze calls the wrapped algorithm, recovering from a panic and
// coercing any result into a well-formed StrategyDecision. A crashing or
// malformed algorithm never brings down a cycle — it is mapped to HOLD
// with a reason string, and the engine continues.
func (a *Adapter) Analyze(data StockData, symbol string) (decision domain.StrategyDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = holdDecision("strategy panicked")
		}
	}()
	raw := a.algo.Analyze(data, symbol)
	return Coerce(raw)
}

// Coerce normalizes any StrategyDecision-shaped value into a well-formed
// one: a missing signal becomes HOLD, an out-of-range confidence becomes
// DefaultConfidence (a zero confidence is left at zero), a missing reason
// becomes a generic string.
func Coerce(d domain.StrategyDecision) domain.StrategyDecision {
	switch d.Signal {
	case domain.SignalBuy, domain.SignalSell:
	default:
		d.Signal = domain.SignalHold
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = DefaultConfidence
	}
	if d.Reason == "" {
		d.Reason = "no reason supplied"
	}
	return d
}

func holdDecision(reason string) domain.StrategyDecision {
	return domain.StrategyDecision{Signal: domain.SignalHold, Confidence: 0, Reason: reason}
}

// CycleInterval returns algo's own interval if it implements
// CycleIntervalProvider, else the default.
func (a *Adapter) CycleInterval() int {
	if p, ok := a.algo.(CycleIntervalProvider); ok {
		if v := p.CycleInterval(); v > 0 {
			return v
		}
	}
	return DefaultCycleIntervalSeconds
}

// ShouldStopTrading reports algo's own veto if it implements
// StopController, else false (never stop).
func (a *Adapter) ShouldStopTrading() bool {
	if p, ok := a.algo.(StopController); ok {
		return p.ShouldStopTrading()
	}
	return false
}

// OnAlgorithmStart returns algo's own narration if it implements
// SessionNarrator, else a generic message.
func (a *Adapter) OnAlgorithmStart(account domain.Account, balance domain.AccountSnapshot, stats map[string]any) string {
	if p, ok := a.algo.(SessionNarrator); ok {
		return p.OnAlgorithmStart(account, balance, stats)
	}
	return "trading session started"
}

// OnAlgorithmEnd returns algo's own narration if it implements
// SessionNarrator, else a generic message.
func (a *Adapter) OnAlgorithmEnd(account domain.Account, balance domain.AccountSnapshot, stats map[string]any) string {
	if p, ok := a.algo.(SessionNarrator); ok {
		return p.OnAlgorithmEnd(account, balance, stats)
	}
	return "trading session ended"
}
