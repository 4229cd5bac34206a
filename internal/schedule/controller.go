// Package schedule implements the Shutdown & Schedule Controller: the
// three independent, cooperative triggers that end a trading loop — an
// external sentinel file, the KST market-close clock, and a strategy's
// own veto.
package schedule

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// ForceExitContent is the sentinel-file content that terminates
	// immediately rather than cooperatively.
	ForceExitContent = "FORCE_EXIT"

	defaultDaytradingSentinel  = "STOP_DAYTRADING.signal"
	defaultAutotradingSentinel = "STOP_AUTOTRADING.signal"
)

// Seoul is the fixed timezone every market-hours computation runs in.
var Seoul = mustLoadSeoul()

func mustLoadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Config bounds the market-close clock.
type Config struct {
	SentinelPath    string
	MarketCloseHour int
	MarketCloseMin  int
	CloseGuard      time.Duration
	EntryCutoffHour int
	EntryCutoffMin  int
	SkipMarketHours bool
}

// DayTradingConfig is the default config for the intraday strategy.
func DayTradingConfig() Config {
	return Config{
		SentinelPath:    defaultDaytradingSentinel,
		MarketCloseHour: 15,
		MarketCloseMin:  30,
		CloseGuard:      10 * time.Minute,
		EntryCutoffHour: 15,
		EntryCutoffMin:  0,
	}
}

// AutoTradingConfig is the default config for the swing strategy.
func AutoTradingConfig() Config {
	cfg := DayTradingConfig()
	cfg.SentinelPath = defaultAutotradingSentinel
	return cfg
}

// StopVetoer is the optional strategy hook that can veto further
// trading without ending the process.
type StopVetoer interface {
	ShouldStopTrading() bool
}

// Controller evaluates the three termination triggers. It holds no
// mutable state of its own beyond its configuration; every method reads
// fresh state (clock, filesystem) on each call.
type Controller struct {
	cfg    Config
	vetoer StopVetoer
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Controller. vetoer may be nil, in which case the
// strategy veto trigger is always false.
func New(cfg Config, vetoer StopVetoer, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		vetoer: vetoer,
		log:    log.With().Str("component", "schedule_controller").Logger(),
		now:    time.Now,
	}
}

// StopSignal is the result of reading the sentinel file.
type StopSignal int

const (
	// NoStopSignal means the sentinel file is absent.
	NoStopSignal StopSignal = iota
	// CooperativeStop means the file exists with non-FORCE_EXIT content:
	// finish the in-flight operation, then terminate.
	CooperativeStop
	// ForceStop means the file content is exactly FORCE_EXIT: terminate
	// immediately, bypassing final bookkeeping.
	ForceStop
)

// CheckStopSignal reads the sentinel file, if any.
func (c *Controller) CheckStopSignal() StopSignal {
	data, err := os.ReadFile(c.cfg.SentinelPath)
	if err != nil {
		return NoStopSignal
	}
	content := strings.TrimSpace(string(data))
	if content == ForceExitContent {
		return ForceStop
	}
	return CooperativeStop
}

// StopRequested reports whether either sentinel state or the strategy
// veto demands termination.
func (c *Controller) StopRequested() bool {
	if c.CheckStopSignal() != NoStopSignal {
		return true
	}
	return c.ShouldStopTrading()
}

// ShouldStopTrading reports the strategy's own veto, if one is wired.
func (c *Controller) ShouldStopTrading() bool {
	if c.vetoer == nil {
		return false
	}
	return c.vetoer.ShouldStopTrading()
}

func (c *Controller) nowKST() time.Time {
	return c.now().In(Seoul)
}

// PastMarketClose reports whether the current KST time is at or after
// the configured market-close clock time. Always false when
// SkipMarketHours is set (operator validation runs).
func (c *Controller) PastMarketClose() bool {
	if c.cfg.SkipMarketHours {
		return false
	}
	t := c.nowKST()
	closeAt := atClock(t, c.cfg.MarketCloseHour, c.cfg.MarketCloseMin)
	return !t.Before(closeAt)
}

// InCloseGuard reports whether the current time is within the
// close-guard window before market close, during which new entries are
// blocked (but existing positions may still be managed).
func (c *Controller) InCloseGuard() bool {
	if c.cfg.SkipMarketHours {
		return false
	}
	t := c.nowKST()
	closeAt := atClock(t, c.cfg.MarketCloseHour, c.cfg.MarketCloseMin)
	guardStart := closeAt.Add(-c.cfg.CloseGuard)
	return !t.Before(guardStart) && t.Before(closeAt)
}

// EntriesAllowed reports whether new buy entries are still permitted:
// before the entry cutoff and outside the close guard.
func (c *Controller) EntriesAllowed() bool {
	if c.cfg.SkipMarketHours {
		return true
	}
	if c.InCloseGuard() || c.PastMarketClose() {
		return false
	}
	t := c.nowKST()
	cutoff := atClock(t, c.cfg.EntryCutoffHour, c.cfg.EntryCutoffMin)
	return t.Before(cutoff)
}

func atClock(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

const sleepSliceDuration = 5 * time.Second

// sleepSlice is package-level indirection so tests can shrink the slice
// granularity without changing production timing.
var sleepSlice = sleepSliceDuration

// SleepInterrupted sleeps for total, checking CheckStopSignal once per
// 5-second slice so a stop signal is honored within that granularity
// instead of only at the end of a long sleep. It returns early with the
// observed signal the moment one is seen.
func (c *Controller) SleepInterrupted(total time.Duration) StopSignal {
	remaining := total
	for remaining > 0 {
		slice := sleepSlice
		if remaining < slice {
			slice = remaining
		}
		time.Sleep(slice)
		remaining -= slice
		if sig := c.CheckStopSignal(); sig != NoStopSignal {
			return sig
		}
	}
	return NoStopSignal
}
