package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kis-trader/engine/internal/domain"
)

type stubAlgorithm struct {
	decision domain.StrategyDecision
	panics   bool
}

func (s *stubAlgorithm) Analyze(data StockData, symbol string) domain.StrategyDecision {
	if s.panics {
		panic("boom")
	}
	return s.decision
}

type fullAlgorithm struct {
	stubAlgorithm
	interval int
	stop     bool
}

func (f *fullAlgorithm) CycleInterval() int      { return f.interval }
func (f *fullAlgorithm) ShouldStopTrading() bool { return f.stop }
func (f *fullAlgorithm) OnAlgorithmStart(domain.Account, domain.AccountSnapshot, map[string]any) string {
	return "custom start"
}
func (f *fullAlgorithm) OnAlgorithmEnd(domain.Account, domain.AccountSnapshot, map[string]any) string {
	return "custom end"
}

func TestAdapter_CoercesPanicToHold(t *testing.T) {
	a := New(&stubAlgorithm{panics: true})
	d := a.Analyze(StockData{}, "005930")
	assert.Equal(t, domain.SignalHold, d.Signal)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestAdapter_CoercesOutOfRangeConfidence(t *testing.T) {
	a := New(&stubAlgorithm{decision: domain.StrategyDecision{Signal: domain.SignalBuy, Confidence: 5}})
	d := a.Analyze(StockData{}, "005930")
	assert.Equal(t, domain.SignalBuy, d.Signal)
	assert.Equal(t, DefaultConfidence, d.Confidence)
}

func TestAdapter_CoercesEmptySignalToHold(t *testing.T) {
	a := New(&stubAlgorithm{decision: domain.StrategyDecision{}})
	d := a.Analyze(StockData{}, "005930")
	assert.Equal(t, domain.SignalHold, d.Signal)
	assert.NotEmpty(t, d.Reason)
}

func TestAdapter_DefaultHooksWhenAlgorithmDoesNotImplementThem(t *testing.T) {
	a := New(&stubAlgorithm{})
	assert.Equal(t, DefaultCycleIntervalSeconds, a.CycleInterval())
	assert.False(t, a.ShouldStopTrading())
	assert.NotEmpty(t, a.OnAlgorithmStart(domain.Account{}, domain.AccountSnapshot{}, nil))
	assert.NotEmpty(t, a.OnAlgorithmEnd(domain.Account{}, domain.AccountSnapshot{}, nil))
}

func TestAdapter_UsesAlgorithmHooksWhenImplemented(t *testing.T) {
	algo := &fullAlgorithm{interval: 45, stop: true}
	a := New(algo)
	assert.Equal(t, 45, a.CycleInterval())
	assert.True(t, a.ShouldStopTrading())
	assert.Equal(t, "custom start", a.OnAlgorithmStart(domain.Account{}, domain.AccountSnapshot{}, nil))
	assert.Equal(t, "custom end", a.OnAlgorithmEnd(domain.Account{}, domain.AccountSnapshot{}, nil))
}

func TestRSIAlgorithm_BuysWhenOversold(t *testing.T) {
	algo := NewRSIAlgorithm()
	closes := decliningCloses(20)
	candles := candlesFromCloses(closes)
	d := algo.Analyze(StockData{Candles: candles}, "005930")
	assert.Equal(t, domain.SignalBuy, d.Signal)
}

func TestRSIAlgorithm_HoldsOnInsufficientHistory(t *testing.T) {
	algo := NewRSIAlgorithm()
	d := algo.Analyze(StockData{Candles: candlesFromCloses([]float64{100, 101, 102})}, "005930")
	assert.Equal(t, domain.SignalHold, d.Signal)
}
