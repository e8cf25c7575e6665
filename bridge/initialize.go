package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
)

// InitOptions bounds the startup capability exchange.
type InitOptions struct {
	// Budget is the total time allowed for all downstreams to come up.
	Budget time.Duration
	// RetryInitial, RetryMax, and Multiplier shape the per-downstream
	// backoff schedule: min(RetryMax, RetryInitial·Multiplierᵏ).
	RetryInitial time.Duration
	RetryMax     time.Duration
	Multiplier   float64
	// AttemptTimeout bounds one capability exchange.
	AttemptTimeout time.Duration
}

func (o *InitOptions) defaults() {
	if o.Budget == 0 {
		o.Budget = 2 * time.Minute
	}
	if o.RetryInitial == 0 {
		o.RetryInitial = time.Second
	}
	if o.RetryMax == 0 {
		o.RetryMax = 10 * time.Second
	}
	if o.Multiplier == 0 {
		o.Multiplier = 2.0
	}
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = 10 * time.Second
	}
}

// Initialize probes every downstream with exponential backoff until it
// initializes or the budget runs out.
//
// Partial success is success: the bridge serves with whatever subset came
// up, and the health monitor keeps retrying the rest. An error is returned
// only when no downstream initialized at all.
//
// Initialize is re-entrant; already-initialized downstreams are skipped.
func (b *Bridge) Initialize(ctx context.Context, opts InitOptions) error {
	opts.defaults()
	ctx = zlog.ContextWithValues(ctx, "component", "bridge/Bridge.Initialize")
	ctx, cancel := context.WithTimeout(ctx, opts.Budget)
	defer cancel()

	var eg errgroup.Group
	for _, d := range b.downstreams {
		if d.Initialized() {
			continue
		}
		eg.Go(func() error {
			op := func() (struct{}, error) {
				initializeAttempts.WithLabelValues(d.cfg.URL, "attempt").Inc()
				actx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
				defer cancel()
				return struct{}{}, d.initialize(actx)
			}
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = opts.RetryInitial
			bo.MaxInterval = opts.RetryMax
			bo.Multiplier = opts.Multiplier
			_, err := backoff.Retry(ctx, op,
				backoff.WithBackOff(bo),
				backoff.WithMaxElapsedTime(opts.Budget))
			if err != nil {
				initializeAttempts.WithLabelValues(d.cfg.URL, "gave_up").Inc()
				zlog.Warn(ctx).
					Str("downstream", d.cfg.URL).
					Err(err).
					Msg("downstream failed to initialize within budget")
				// Not fatal here; the caller checks aggregate success.
				return nil
			}
			initializeAttempts.WithLabelValues(d.cfg.URL, "ok").Inc()
			return nil
		})
	}
	_ = eg.Wait()

	up := 0
	for _, d := range b.downstreams {
		if d.Initialized() {
			up++
		}
	}
	switch {
	case up == 0:
		return fmt.Errorf("bridge: no downstream initialized within %v", opts.Budget)
	case up < len(b.downstreams):
		zlog.Info(ctx).
			Int("initialized", up).
			Int("configured", len(b.downstreams)).
			Msg("starting with partial downstream availability")
	default:
		zlog.Info(ctx).
			Int("initialized", up).
			Msg("all downstreams initialized")
	}
	return nil
}
