package health

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/types"
)

// Prober polls a Checker until it reports healthy, reports a permanent
// failure, or the overall deadline passes
type Prober struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// NewProber creates a prober driven by clk. A nil clock means wall time.
func NewProber(clk clock.Clock) *Prober {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Prober{
		clock:  clk,
		logger: log.WithComponent("prober"),
	}
}

// WaitReady blocks until serviceID is ready or the wait ends otherwise.
// A first check is always made. Between checks the prober sleeps for
// interval, shortened so that the last check lands exactly on the deadline.
// The outcome is TimedOut only when the deadline has passed without a
// healthy result.
//
// Checks run under a context that ends one interval after the deadline, so a
// check that blocks cannot hold the wait past timeout plus one interval.
func (p *Prober) WaitReady(ctx context.Context, serviceID string, checker Checker, interval, timeout time.Duration) types.ProbeResult {
	logger := p.logger.With().Str("service_id", serviceID).Str("check", string(checker.Type())).Logger()
	start := p.clock.Now()
	deadline := start.Add(timeout)
	attempts := 0

	finish := func(outcome types.ProbeOutcome, message string) types.ProbeResult {
		now := p.clock.Now()
		res := types.ProbeResult{
			Outcome:  outcome,
			Attempts: attempts,
			Message:  message,
			Elapsed:  now.Sub(start),
			At:       now,
		}
		metrics.ProbeDuration.WithLabelValues(serviceID, string(outcome)).Observe(res.Elapsed.Seconds())
		logger.Debug().
			Str("outcome", string(outcome)).
			Int("attempts", attempts).
			Dur("elapsed", res.Elapsed).
			Msg("Readiness wait finished")
		return res
	}

	checkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hard := p.clock.AfterFunc(timeout+interval, cancel)
	defer hard.Stop()

	for {
		if ctx.Err() != nil {
			return finish(types.OutcomeCancelled, ctx.Err().Error())
		}

		attempts++
		metrics.ProbeAttempts.WithLabelValues(serviceID).Inc()
		result := checker.Check(checkCtx)

		if ctx.Err() != nil {
			return finish(types.OutcomeCancelled, ctx.Err().Error())
		}
		if checkCtx.Err() != nil {
			return finish(types.OutcomeTimedOut, result.Message)
		}
		if result.Healthy {
			return finish(types.OutcomeReady, result.Message)
		}
		if result.Permanent {
			return finish(types.OutcomeErrored, result.Message)
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			return finish(types.OutcomeTimedOut, result.Message)
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		logger.Debug().
			Int("attempt", attempts).
			Str("message", result.Message).
			Dur("retry_in", wait).
			Msg("Service not ready")

		select {
		case <-ctx.Done():
			return finish(types.OutcomeCancelled, ctx.Err().Error())
		case <-p.clock.After(wait):
		}
	}
}
