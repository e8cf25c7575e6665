// Package names maintains the durable, incrementally-refreshed catalog of
// package identifiers for one upstream.
//
// The live index is an immutable sorted structure swapped atomically on
// refresh, so readers never observe a half-built catalog. A sqlite snapshot
// under the backend's cache directory survives restarts; serving from the
// last snapshot when a refresh fails is deliberate.
package names

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quay/zlog"

	"github.com/xregistry/xrbridge/driver"
)

// DefaultInterval is the default background refresh cadence.
const DefaultInterval = 12 * time.Hour

// Options configures a Catalog.
type Options struct {
	// Dir is the backend's cache directory. Empty means memory-only.
	Dir string
	// Normalize is the per-backend name normalisation hook. Defaults to
	// the identity function; adapters implementing [driver.Normalizer]
	// should pass their normalisation here.
	Normalize func(string) string
	// Interval is the background refresh cadence for Start.
	Interval time.Duration
}

// Catalog is the package-name catalog for one upstream.
type Catalog struct {
	source    driver.NameLister
	norm      func(string) string
	interval  time.Duration
	snap      *snapshot
	idx       atomic.Pointer[index]
	refreshMu sync.Mutex
}

// index is the immutable live structure: names in normalised-key order, with
// the parallel key slice used for lookups. The fingerprint rides along so
// readers see a consistent (names, cursor) pair without taking the refresh
// lock; Refresh may hold that lock across upstream I/O.
type index struct {
	keys  []string
	names []string
	fp    driver.Fingerprint
}

// New opens a Catalog, loading any existing snapshot.
func New(ctx context.Context, source driver.NameLister, opts Options) (*Catalog, error) {
	c := &Catalog{
		source:   source,
		norm:     opts.Normalize,
		interval: opts.Interval,
	}
	if c.norm == nil {
		if n, ok := source.(driver.Normalizer); ok {
			c.norm = n.NormalizeName
		} else {
			c.norm = func(s string) string { return s }
		}
	}
	if c.interval == 0 {
		c.interval = DefaultInterval
	}
	c.idx.Store(&index{})
	if opts.Dir != "" {
		s, err := openSnapshot(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("names: opening snapshot: %w", err)
		}
		c.snap = s
		names, fp, err := s.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("names: loading snapshot: %w", err)
		}
		if len(names) != 0 {
			idx := c.build(names)
			idx.fp = fp
			c.idx.Store(idx)
		}
	}
	return c, nil
}

// Close releases the snapshot handle, if any.
func (c *Catalog) Close() error {
	if c.snap != nil {
		return c.snap.close()
	}
	return nil
}

func (c *Catalog) build(names []string) *index {
	type kv struct{ k, n string }
	rows := make([]kv, 0, len(names))
	for _, n := range names {
		rows = append(rows, kv{c.norm(n), n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].k < rows[j].k })
	idx := &index{
		keys:  make([]string, 0, len(rows)),
		names: make([]string, 0, len(rows)),
	}
	for i, r := range rows {
		if i > 0 && r.k == rows[i-1].k {
			continue
		}
		idx.keys = append(idx.keys, r.k)
		idx.names = append(idx.names, r.n)
	}
	return idx
}

// Len reports the number of catalogued names.
func (c *Catalog) Len() int { return len(c.idx.Load().names) }

// Fingerprint reports the cursor identifying the current index. It reads
// the live structure and never blocks on an in-flight Refresh.
func (c *Catalog) Fingerprint() driver.Fingerprint {
	return c.idx.Load().fp
}

// Exists reports whether name is catalogued, applying the backend's
// normalisation.
func (c *Catalog) Exists(name string) bool {
	idx := c.idx.Load()
	k := c.norm(name)
	i := sort.SearchStrings(idx.keys, k)
	return i < len(idx.keys) && idx.keys[i] == k
}

// All returns every catalogued name in normalised-key order. The returned
// slice is shared; callers must not modify it.
func (c *Catalog) All() []string { return c.idx.Load().names }

// Matching returns the names accepted by pred, in normalised-key order.
func (c *Catalog) Matching(pred func(string) bool) []string {
	idx := c.idx.Load()
	var out []string
	for _, n := range idx.names {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// List returns the page [offset, offset+limit) of names accepted by pred
// (nil accepts everything) and the total after filtering.
func (c *Catalog) List(offset, limit int, pred func(string) bool) ([]string, int) {
	names := c.idx.Load().names
	if pred != nil {
		names = c.Matching(pred)
	}
	total := len(names)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return names[offset:end], total
}

// Refresh pulls the upstream index if it changed, atomically swapping the
// live structure and rewriting the snapshot. Refresh is idempotent; a
// refresh already in flight turns this call into a no-op.
func (c *Catalog) Refresh(ctx context.Context) error {
	if !c.refreshMu.TryLock() {
		return nil
	}
	defer c.refreshMu.Unlock()
	ctx = zlog.ContextWithValues(ctx, "component", "names/Catalog.Refresh")

	prev := c.idx.Load().fp
	names, fp, err := c.source.ListNames(ctx, prev)
	switch {
	case errors.Is(err, driver.Unchanged):
		zlog.Debug(ctx).Str("fingerprint", string(prev)).Msg("upstream index unchanged")
		return nil
	case err != nil:
		return fmt.Errorf("names: listing upstream: %w", err)
	}

	idx := c.build(names)
	idx.fp = fp
	if c.snap != nil {
		if err := c.snap.store(ctx, idx.keys, idx.names, fp); err != nil {
			// Non-fatal: the live index still swaps; the snapshot
			// is only stale on disk.
			zlog.Warn(ctx).Err(err).Msg("failed to persist name snapshot")
		}
	}
	c.idx.Store(idx)
	zlog.Info(ctx).
		Int("names", len(idx.names)).
		Str("fingerprint", string(fp)).
		Msg("name catalog refreshed")
	return nil
}

// Start refreshes immediately and then on every interval tick until the
// context is cancelled. Refresh failures are logged and non-fatal.
//
// Start is designed to be ran as a go routine.
func (c *Catalog) Start(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "names/Catalog.Start")
	if err := c.Refresh(ctx); err != nil {
		zlog.Error(ctx).Err(err).Msg("initial name refresh failed")
	}
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := c.Refresh(ctx); err != nil {
				zlog.Error(ctx).Err(err).Msg("name refresh failed")
			}
		}
	}
}
