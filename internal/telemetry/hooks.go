// Package telemetry implements the engine's outward-facing event hooks:
// a narrow set of session/cycle/order/error events, delivered best-effort
// to whatever collaborators subscribe. Delivery is synchronous: each
// subscriber is called in turn on the caller's goroutine, so a subscriber
// that blocks also blocks the caller; a panicking subscriber is recovered.
package telemetry

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/kis-trader/engine/internal/domain"
)

// Subscriber receives best-effort telemetry events. Every method must
// return promptly: the engine calls these synchronously but never waits
// on anything they do beyond the call itself, so a slow or blocking
// implementation stalls the cycle loop — subscribers needing I/O should
// hand off to their own goroutine or channel internally.
type Subscriber interface {
	SessionStarted(account domain.Account, proc domain.ProcessSnapshot)
	SessionEnded(account domain.Account, reason string)
	CycleCompleted(report domain.CycleReport)
	OrderPlaced(side domain.Side, symbol string, quantity int, price float64, result domain.OrderResult)
	Error(kind string, message string, proc domain.ProcessSnapshot)
}

// Hub fans events out to every registered Subscriber, catching and
// logging (never propagating) a panic from any one of them so a broken
// collaborator cannot take down a cycle.
type Hub struct {
	subscribers []Subscriber
	log         zerolog.Logger
}

// New creates an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{log: log.With().Str("component", "telemetry_hub").Logger()}
}

// Register adds a Subscriber. Not safe to call concurrently with event
// delivery; register every collaborator before Session.Open.
func (h *Hub) Register(s Subscriber) {
	h.subscribers = append(h.subscribers, s)
}

func (h *Hub) deliver(name string, fn func(Subscriber)) {
	for _, s := range h.subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Warn().Str("event", name).Interface("panic", r).Msg("telemetry subscriber panicked")
				}
			}()
			fn(s)
		}()
	}
}

// SessionStarted notifies every subscriber a session opened, attaching a
// process health snapshot so a monitor has a baseline goroutine/RSS
// reading from the moment the session came up.
func (h *Hub) SessionStarted(account domain.Account) {
	proc := captureProcessSnapshot(h.log)
	h.deliver("SessionStarted", func(s Subscriber) { s.SessionStarted(account, proc) })
}

// SessionEnded notifies every subscriber a session closed, with reason.
func (h *Hub) SessionEnded(account domain.Account, reason string) {
	h.deliver("SessionEnded", func(s Subscriber) { s.SessionEnded(account, reason) })
}

// CycleCompleted notifies every subscriber one cycle finished.
func (h *Hub) CycleCompleted(report domain.CycleReport) {
	h.deliver("CycleCompleted", func(s Subscriber) { s.CycleCompleted(report) })
}

// OrderPlaced notifies every subscriber an order was attempted.
func (h *Hub) OrderPlaced(side domain.Side, symbol string, quantity int, price float64, result domain.OrderResult) {
	h.deliver("OrderPlaced", func(s Subscriber) { s.OrderPlaced(side, symbol, quantity, price, result) })
}

// Error notifies every subscriber of a structured, stack-trace-free error
// event — the operator console only ever sees a short kind/message pair
// plus a process snapshot, never a raw stack trace. The snapshot lets a
// monitor correlate a reported error with goroutine/memory growth
// without polling the status server separately.
func (h *Hub) Error(kind string, message string) {
	proc := captureProcessSnapshot(h.log)
	h.deliver("Error", func(s Subscriber) { s.Error(kind, message, proc) })
}

// captureProcessSnapshot reads the current goroutine count and resident
// set size. A gopsutil failure degrades to a zero-valued RSS rather than
// blocking event delivery — the snapshot is a diagnostic extra, never a
// reason to drop an event.
func captureProcessSnapshot(log zerolog.Logger) domain.ProcessSnapshot {
	snap := domain.ProcessSnapshot{GoroutineCount: runtime.NumGoroutine()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("failed to open process handle for telemetry snapshot")
		return snap
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read process memory info for telemetry snapshot")
		return snap
	}
	snap.RSSBytes = info.RSS
	return snap
}
