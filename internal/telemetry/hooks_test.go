package telemetry

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/kis-trader/engine/internal/domain"
)

func disabledLog() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

type recordingSubscriber struct {
	sessionStarted int
	sessionEnded   int
	cyclesSeen     []domain.CycleReport
	ordersSeen     int
	errorsSeen     []string
	lastStartProc  domain.ProcessSnapshot
	lastErrorProc  domain.ProcessSnapshot
}

func (r *recordingSubscriber) SessionStarted(account domain.Account, proc domain.ProcessSnapshot) {
	r.sessionStarted++
	r.lastStartProc = proc
}
func (r *recordingSubscriber) SessionEnded(account domain.Account, reason string) {
	r.sessionEnded++
}
func (r *recordingSubscriber) CycleCompleted(report domain.CycleReport) {
	r.cyclesSeen = append(r.cyclesSeen, report)
}
func (r *recordingSubscriber) OrderPlaced(side domain.Side, symbol string, quantity int, price float64, result domain.OrderResult) {
	r.ordersSeen++
}
func (r *recordingSubscriber) Error(kind string, message string, proc domain.ProcessSnapshot) {
	r.errorsSeen = append(r.errorsSeen, kind+": "+message)
	r.lastErrorProc = proc
}

type panickingSubscriber struct{}

func (panickingSubscriber) SessionStarted(domain.Account, domain.ProcessSnapshot) { panic("boom") }
func (panickingSubscriber) SessionEnded(domain.Account, string)                   { panic("boom") }
func (panickingSubscriber) CycleCompleted(domain.CycleReport)                     { panic("boom") }
func (panickingSubscriber) OrderPlaced(domain.Side, string, int, float64, domain.OrderResult) {
	panic("boom")
}
func (panickingSubscriber) Error(string, string, domain.ProcessSnapshot) { panic("boom") }

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	hub := New(disabledLog())
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	hub.Register(a)
	hub.Register(b)

	hub.SessionStarted(domain.Account{})
	hub.CycleCompleted(domain.CycleReport{CycleNumber: 1})
	hub.OrderPlaced(domain.Buy, "005930", 10, 55000, domain.OrderResult{Accepted: true})
	hub.Error("TestError", "something happened")
	hub.SessionEnded(domain.Account{}, "done")

	for _, r := range []*recordingSubscriber{a, b} {
		assert.Equal(t, 1, r.sessionStarted)
		assert.Equal(t, 1, r.sessionEnded)
		assert.Len(t, r.cyclesSeen, 1)
		assert.Equal(t, 1, r.ordersSeen)
		assert.Len(t, r.errorsSeen, 1)
		assert.Greater(t, r.lastStartProc.GoroutineCount, 0, "SessionStarted must carry a live goroutine count")
		assert.Greater(t, r.lastErrorProc.GoroutineCount, 0, "Error must carry a live goroutine count")
	}
}

func TestHub_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := New(disabledLog())
	hub.Register(panickingSubscriber{})
	recorder := &recordingSubscriber{}
	hub.Register(recorder)

	assert.NotPanics(t, func() {
		hub.CycleCompleted(domain.CycleReport{CycleNumber: 1})
	})
	assert.Len(t, recorder.cyclesSeen, 1)
}
