// Package engine implements the Trading Cycle Engine and the Session
// lifecycle: an explicitly constructed Session value wires together the
// account, broker, candidates, strategy, schedule, previousday and
// telemetry packages into one top-level loop.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/account"
	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/candidates"
	"github.com/kis-trader/engine/internal/domain"
	"github.com/kis-trader/engine/internal/previousday"
	"github.com/kis-trader/engine/internal/schedule"
	"github.com/kis-trader/engine/internal/strategy"
	"github.com/kis-trader/engine/internal/telemetry"
)

// Config bounds the engine's per-cycle tunables.
type Config struct {
	MaxPositions       int
	PositionSizeRatio  float64
	BuyConfidenceFloor float64
	StopLossRate       float64 // negative, e.g. -0.03
	TakeProfitRate     float64 // positive, e.g. 0.05
	PreviousDayPolicy  previousday.Policy
}

// DefaultConfig returns the engine's conservative starting defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositions:       5,
		PositionSizeRatio:  0.20,
		BuyConfidenceFloor: 0.6,
		StopLossRate:       -0.03,
		TakeProfitRate:     0.05,
		PreviousDayPolicy:  previousday.Minimal,
	}
}

// Session owns one account's Token Service, API Client, Account State
// Manager, and Trading Cycle Engine for the session's lifetime — these
// are never shared with another Session, even for the same account.
type Session struct {
	account  domain.Account
	cfg      Config
	client   *broker.Client
	manager  *account.Manager
	provider *candidates.Provider
	algo     *strategy.Adapter
	sched    *schedule.Controller
	prevDay  *previousday.Handler
	hub      *telemetry.Hub
	log      zerolog.Logger

	cycleNumber int
}

// Option customizes a Session at construction.
type Option func(*Session)

// WithTelemetry registers subscribers on the Session's Hub.
func WithTelemetry(subscribers ...telemetry.Subscriber) Option {
	return func(s *Session) {
		for _, sub := range subscribers {
			s.hub.Register(sub)
		}
	}
}

// New assembles a Session from its already-constructed components. The
// caller is responsible for building the broker client, account manager,
// candidate provider, strategy adapter and schedule controller bound to
// the given account (see cmd/engine for the wiring this performs).
func New(
	acc domain.Account,
	cfg Config,
	client *broker.Client,
	manager *account.Manager,
	provider *candidates.Provider,
	algo strategy.Algorithm,
	sched *schedule.Controller,
	log zerolog.Logger,
	opts ...Option,
) *Session {
	log = log.With().Str("component", "trading_cycle_engine").Str("account", string(acc.Type)).Logger()
	hub := telemetry.New(log)
	adapter := strategy.New(algo)

	s := &Session{
		account:  acc,
		cfg:      cfg,
		client:   client,
		manager:  manager,
		provider: provider,
		algo:     adapter,
		sched:    sched,
		prevDay:  previousday.New(cfg.PreviousDayPolicy, client, nil, log),
		hub:      hub,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open begins the session: starts the account manager's background
// refresh schedule and announces SessionStarted.
func (s *Session) Open() {
	s.manager.StartSession()
	s.hub.SessionStarted(s.account)
	s.log.Info().Msg("session opened")
}

// Close ends the session: stops the account manager's schedule and
// announces SessionEnded.
func (s *Session) Close(reason string) {
	s.manager.EndSession()
	s.hub.SessionEnded(s.account, reason)
	s.log.Info().Str("reason", reason).Msg("session closed")
}

// Run executes the top-level loop until a stop trigger fires. It
// returns the reason the loop ended.
func (s *Session) Run(ctx context.Context) string {
	snap, err := s.manager.GetSnapshot(ctx, true)
	if err != nil {
		s.log.Error().Err(err).Msg("initial snapshot refresh failed")
		s.hub.Error("snapshot_refresh_failed", err.Error())
		return "initial snapshot refresh failed"
	}

	decisions := s.prevDay.Run(ctx, snap)
	for _, d := range decisions {
		s.log.Info().Str("symbol", d.Symbol).Str("action", d.Action).Msg("previous-day balance decision")
	}

	for {
		s.cycleNumber++
		if s.sched.StopRequested() {
			return "stop requested"
		}
		if s.sched.PastMarketClose() {
			return "past market close"
		}

		if err := s.runCycle(ctx); err != nil {
			if err == candidates.ErrServerUnresponsive {
				s.log.Warn().Msg("candidate ranking feed unresponsive, ending session")
				s.hub.Error("server_unresponsive", err.Error())
				return "candidate feed unresponsive"
			}
			s.log.Error().Err(err).Msg("cycle failed")
			s.hub.Error("cycle_failed", err.Error())
		}

		sig := s.sched.SleepInterrupted(time.Duration(s.algo.CycleInterval()) * time.Second)
		if sig != schedule.NoStopSignal {
			return "stop signal observed during sleep"
		}
	}
}
