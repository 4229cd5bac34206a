// Package main is the entry point for the trading engine: a small CLI
// that resolves account-type and strategy selection, wires the Token
// Service, API Client, Account State Manager, Candidate Provider,
// Strategy Adapter and Schedule Controller for that one account, and
// runs exactly one Session to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kis-trader/engine/internal/account"
	"github.com/kis-trader/engine/internal/broker"
	"github.com/kis-trader/engine/internal/candidates"
	"github.com/kis-trader/engine/internal/config"
	"github.com/kis-trader/engine/internal/domain"
	"github.com/kis-trader/engine/internal/engine"
	"github.com/kis-trader/engine/internal/previousday"
	"github.com/kis-trader/engine/internal/ratelimit"
	"github.com/kis-trader/engine/internal/schedule"
	"github.com/kis-trader/engine/internal/strategy"
	"github.com/kis-trader/engine/internal/telemetry"
	"github.com/kis-trader/engine/internal/tokenauth"
	"github.com/kis-trader/engine/pkg/logger"
)

// cliConfig holds the operator's choices for this one run.
type cliConfig struct {
	accountType     string
	strategy        string
	configPath      string
	tokenCacheDir   string
	logLevel        string
	skipMarketHours bool
	simulateOrders  bool
	statusAddr      string
}

func parseFlags() cliConfig {
	var c cliConfig
	flag.StringVar(&c.accountType, "account", "", "account type to trade: LIVE or PAPER (required)")
	flag.StringVar(&c.strategy, "strategy", "", "strategy to run: auto (swing) or day (intraday) (required)")
	flag.StringVar(&c.configPath, "config", "", "path to the credentials document (default: $KIS_ENGINE_CONFIG or config.yaml)")
	flag.StringVar(&c.tokenCacheDir, "token-cache-dir", ".token-cache", "directory holding the per-account, per-day token cache")
	flag.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&c.skipMarketHours, "skip-market-hours", false, "bypass close/cutoff/guard checks (validation runs only)")
	flag.BoolVar(&c.simulateOrders, "simulate-orders", false, "diagnostic switch: acknowledge orders without submitting them")
	flag.StringVar(&c.statusAddr, "status-addr", "", "optional address for the read-only status server (e.g. :8090); empty disables it")
	flag.Parse()
	return c
}

// main orchestrates one session's entire lifetime:
//  1. parse operator flags (account type, strategy, runtime options)
//  2. load the declarative credentials document for the chosen account
//  3. wire the Token Service, rate limiter and API Client for that account
//  4. wire the Account State Manager, Candidate Provider and Strategy Adapter
//  5. wire the Schedule Controller, keyed to the strategy's own defaults
//  6. assemble the Session and run its top-level loop until a stop trigger
//     fires, then shut everything down in reverse order
//
// Exit code 0 means a clean shutdown (including a strategy-driven or
// market-close stop); non-zero means the session never got off the
// ground because of a configuration or credential error.
func main() {
	cli := parseFlags()
	log := logger.New(logger.Config{Level: cli.logLevel, Pretty: true})

	acc, prevDayPolicy, algo, schedCfg, err := resolveRunOptions(cli)
	if err != nil {
		log.Error().Err(err).Msg("invalid operator selection")
		os.Exit(1)
	}

	loader := config.New(cli.configPath)
	acctInfo, err := loader.GetFresh(acc)
	if err != nil {
		log.Error().Err(err).Msg("failed to load account configuration")
		os.Exit(1)
	}

	limiterCfg := ratelimit.PaperDefault
	if acctInfo.Type == domain.Live {
		limiterCfg = ratelimit.LiveDefault
	}
	limiter := ratelimit.New(limiterCfg)

	tokens := tokenauth.New(*acctInfo, cli.tokenCacheDir, schedule.Seoul, log, tokenauth.WithLimiter(limiter))
	client := broker.New(*acctInfo, tokens, limiter, log, broker.WithSimulatedOrders(cli.simulateOrders))

	rankingSource, err := rankingSourceFor(*acctInfo, client, loader, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire candidate ranking source")
		os.Exit(1)
	}

	provider := candidates.New(rankingSource, log,
		candidates.WithThemeFallback(candidates.NewDefaultThemeSource()),
		candidates.WithMomentumEnrichment(candidates.NewTalibEnricher(client)),
		candidates.WithYahooPriceFallback(candidates.NewYahooPriceSource(log)),
	)

	manager := account.New(client, log)

	adapterForSchedule := strategy.New(algo)
	schedCfg.SkipMarketHours = cli.skipMarketHours
	schedCtl := schedule.New(schedCfg, adapterForSchedule, log)

	engineCfg := engine.DefaultConfig()
	engineCfg.PreviousDayPolicy = prevDayPolicy

	var opts []engine.Option
	var statusServer *telemetry.StatusServer
	if cli.statusAddr != "" {
		statusServer = telemetry.NewStatusServer(cli.statusAddr, log)
		statusServer.Start()
		defer statusServer.Stop()
		opts = append(opts, engine.WithTelemetry(statusServer))
	}

	session := engine.New(*acctInfo, engineCfg, client, manager, provider, algo, schedCtl, log, opts...)
	session.Open()

	reasonCh := make(chan string, 1)
	go func() {
		reasonCh <- session.Run(context.Background())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var reason string
	select {
	case reason = <-reasonCh:
	case <-quit:
		log.Info().Msg("shutdown signal received, requesting cooperative stop")
		requestShutdown(schedCfg.SentinelPath, log)
		select {
		case reason = <-reasonCh:
		case <-time.After(30 * time.Second):
			reason = "shutdown timed out waiting for session to stop"
			log.Warn().Msg(reason)
		}
	}

	session.Close(reason)
	log.Info().Str("reason", reason).Msg("session run finished")

	if reason == "initial snapshot refresh failed" {
		os.Exit(1)
	}
	os.Exit(0)
}

// resolveRunOptions translates the operator's account-type/strategy
// choices into concrete collaborators: the account type to load, the
// previous-day liquidation policy, the strategy algorithm, and the
// schedule controller's starting configuration. An unrecognized choice
// is a fatal configuration error, not a default silently applied.
func resolveRunOptions(cli cliConfig) (domain.AccountType, previousday.Policy, strategy.Algorithm, schedule.Config, error) {
	var acc domain.AccountType
	switch cli.accountType {
	case "LIVE", "live":
		acc = domain.Live
	case "PAPER", "paper":
		acc = domain.Paper
	default:
		return "", "", nil, schedule.Config{}, fmt.Errorf("unknown -account %q: must be LIVE or PAPER", cli.accountType)
	}

	switch cli.strategy {
	case "auto", "swing":
		return acc, previousday.Minimal, strategy.NewRSIAlgorithm(), schedule.AutoTradingConfig(), nil
	case "day", "intraday":
		return acc, previousday.DayTrading, strategy.NewMomentumAlgorithm(), schedule.DayTradingConfig(), nil
	default:
		return "", "", nil, schedule.Config{}, fmt.Errorf("unknown -strategy %q: must be auto or day", cli.strategy)
	}
}

// rankingSourceFor returns the broker.Client that should serve the
// candidate ranking feed: the PAPER endpoint does not expose the
// surge-ranking feed, so a PAPER session borrows a LIVE-credentialed
// client for this one read only, built with its own Token Service and
// rate limiter so it never shares state with the PAPER account's own
// client. A LIVE session simply reuses ownClient.
func rankingSourceFor(acc domain.Account, ownClient *broker.Client, loader *config.Loader, log zerolog.Logger) (candidates.RankingSource, error) {
	if acc.Type == domain.Live {
		return ownClient, nil
	}

	liveAcc, err := loader.GetFresh(domain.Live)
	if err != nil {
		return nil, fmt.Errorf("paper session requires a configured LIVE account for the ranking feed: %w", err)
	}
	liveLimiter := ratelimit.New(ratelimit.LiveDefault)
	liveTokens := tokenauth.New(*liveAcc, ".token-cache", schedule.Seoul, log, tokenauth.WithLimiter(liveLimiter))
	return broker.New(*liveAcc, liveTokens, liveLimiter, log), nil
}

// requestShutdown writes the cooperative stop marker the Schedule
// Controller polls for, letting the Session's current cycle and sleep
// finish naturally instead of being interrupted mid-call.
func requestShutdown(sentinelPath string, log zerolog.Logger) {
	if err := os.WriteFile(sentinelPath, []byte("operator requested shutdown"), 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to write shutdown sentinel file")
	}
}
