package bridge

import (
	"context"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/xregistry/xrbridge"
)

// Monitor periodically probes downstream health and folds the results into
// the merged registry: a health flip bumps the root epoch so cached root
// documents invalidate.
type Monitor struct {
	bridge *Bridge
	// Interval is the probe period.
	Interval time.Duration
	// Timeout bounds one probe round.
	Timeout time.Duration
}

// NewMonitor returns a Monitor with the default cadence.
func NewMonitor(b *Bridge) *Monitor {
	return &Monitor{
		bridge:   b,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Start probes on the configured interval until the context is canceled.
func (m *Monitor) Start(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "bridge/Monitor.Start")
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	zlog.Info(ctx).
		Str("interval", m.Interval.String()).
		Msg("starting health monitor")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe round across all downstreams.
//
// Uninitialized downstreams get a full initialization attempt, so backends
// that missed the startup budget join the bridge once they come up.
func (m *Monitor) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	var eg errgroup.Group
	for _, d := range m.bridge.downstreams {
		eg.Go(func() error {
			if !d.Initialized() {
				if err := d.initialize(ctx); err == nil {
					m.noteTransition(ctx, d, true)
				}
				return nil
			}
			if d.probe(ctx) {
				_, healthy, _, _ := d.snapshot()
				m.noteTransition(ctx, d, healthy)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// noteTransition records a health flip: the root document's availability
// view changed, so its epoch moves.
func (m *Monitor) noteTransition(ctx context.Context, d *Downstream, healthy bool) {
	to := "unhealthy"
	if healthy {
		to = "healthy"
	}
	healthTransitions.WithLabelValues(d.cfg.URL, to).Inc()
	epoch := m.bridge.state.Increment(xrbridge.RootXID)
	zlog.Info(ctx).
		Str("downstream", d.cfg.URL).
		Str("to", to).
		Uint64("root_epoch", epoch).
		Msg("downstream health transition")
}
