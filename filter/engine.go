// Package filter implements the server-side filter/sort/page pipeline: a
// cheap prefilter against the name catalog followed by bounded concurrent
// metadata enrichment against the upstream adapter.
package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/names"
	"github.com/xregistry/xrbridge/qparse"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/xregistry/xrbridge/filter")
}

// Defaults for Options fields left zero.
const (
	DefaultMaxFetches     = 30
	DefaultParallel       = 8
	DefaultGlobalParallel = 64
	DefaultCacheSize      = 2000
	DefaultCacheTTL       = 10 * time.Minute
	DefaultEntityTTL      = 5 * time.Minute
)

// Options configures an Engine.
type Options struct {
	// MaxFetches bounds upstream metadata fetches per request.
	MaxFetches int
	// Parallel bounds per-request enrichment concurrency.
	Parallel int
	// GlobalParallel bounds concurrent upstream fetches across requests.
	GlobalParallel int64
	// FetchRate paces upstream fetches; zero means unpaced.
	FetchRate rate.Limit
	// CacheSize/CacheTTL bound the prefiltered candidate-set cache.
	CacheSize int
	CacheTTL  time.Duration
	// EntityTTL bounds the enriched-entity cache.
	EntityTTL time.Duration
	// NameAttrs are the attributes evaluable against the name catalog
	// alone, e.g. ["name", "packageid"].
	NameAttrs []string
}

// Entity is one candidate flowing through the pipeline.
type Entity struct {
	Name string
	// Pkg is nil until the entity is enriched.
	Pkg *driver.Package
}

// Result is one page of the filtered, sorted candidate stream.
type Result struct {
	Page []Entity
	// Total is the number of matches known after filtering. When the
	// fetch budget cut enrichment short this is a lower bound.
	Total int
	// More reports whether another page may exist.
	More bool
}

// Engine runs the two-step filter pipeline for one backend.
type Engine struct {
	adapter   driver.Adapter
	catalog   *names.Catalog
	nameAttrs map[string]bool
	budget    int
	parallel  int
	global    *semaphore.Weighted
	limiter   *rate.Limiter
	cand      *expirable.LRU[string, []string]
	ent       *expirable.LRU[string, *driver.Package]
}

// New returns an Engine over the adapter and its name catalog.
func New(adapter driver.Adapter, catalog *names.Catalog, opts Options) *Engine {
	if opts.MaxFetches == 0 {
		opts.MaxFetches = DefaultMaxFetches
	}
	if opts.Parallel == 0 {
		opts.Parallel = DefaultParallel
	}
	if opts.GlobalParallel == 0 {
		opts.GlobalParallel = DefaultGlobalParallel
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.EntityTTL == 0 {
		opts.EntityTTL = DefaultEntityTTL
	}
	if len(opts.NameAttrs) == 0 {
		opts.NameAttrs = []string{"name"}
	}
	e := &Engine{
		adapter:   adapter,
		catalog:   catalog,
		nameAttrs: make(map[string]bool, len(opts.NameAttrs)),
		budget:    opts.MaxFetches,
		parallel:  opts.Parallel,
		global:    semaphore.NewWeighted(opts.GlobalParallel),
		cand:      expirable.NewLRU[string, []string](opts.CacheSize, nil, opts.CacheTTL),
		ent:       expirable.NewLRU[string, *driver.Package](opts.CacheSize, nil, opts.EntityTTL),
	}
	if opts.FetchRate > 0 {
		e.limiter = rate.NewLimiter(opts.FetchRate, int(opts.FetchRate))
	}
	for _, a := range opts.NameAttrs {
		e.nameAttrs[a] = true
	}
	return e
}

// MaxPage reports the widest page the engine will enrich per request, the
// per-request fetch budget. Callers building pagination links should clamp
// their page size to it so link offsets match the pages actually emitted.
func (e *Engine) MaxPage() int { return e.budget }

// Get returns enriched metadata for one package, consulting the shared
// entity cache and the global fetch budget.
func (e *Engine) Get(ctx context.Context, name string) (*driver.Package, error) {
	if p, ok := e.ent.Get(name); ok {
		return p, nil
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.global.Release(1)
	p, err := e.adapter.Get(ctx, name)
	if err != nil {
		return nil, classify(err, name)
	}
	e.ent.Add(name, p)
	return p, nil
}

func (e *Engine) acquire(ctx context.Context) error {
	if err := e.global.Acquire(ctx, 1); err != nil {
		return &xrbridge.Error{
			Inner: err,
			Kind:  xrbridge.ErrUnavailable,
			Op:    "filter.acquire",
		}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.global.Release(1)
			return &xrbridge.Error{
				Inner: err,
				Kind:  xrbridge.ErrUnavailable,
				Op:    "filter.acquire",
			}
		}
	}
	return nil
}

func classify(err error, name string) error {
	switch {
	case errors.Is(err, driver.ErrNotExist):
		return &xrbridge.Error{
			Inner:   err,
			Kind:    xrbridge.ErrNotFound,
			Message: name,
			Op:      "adapter.Get",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &xrbridge.Error{
			Inner: err,
			Kind:  xrbridge.ErrGatewayTimeout,
			Op:    "adapter.Get",
		}
	}
	return &xrbridge.Error{
		Inner: err,
		Kind:  xrbridge.ErrUnavailable,
		Op:    "adapter.Get",
	}
}

// split partitions clauses into catalog-evaluable and enrichment-requiring.
func (e *Engine) split(cs []qparse.Clause) (cheap, rich []qparse.Clause) {
	for _, c := range cs {
		if e.nameAttrs[c.Attr] {
			cheap = append(cheap, c)
		} else {
			rich = append(rich, c)
		}
	}
	return cheap, rich
}

// candidates runs the cheap prefilter, consulting the candidate-set cache.
func (e *Engine) candidates(ctx context.Context, cheap, rich []qparse.Clause) []string {
	key := string(e.catalog.Fingerprint()) + "|" + qparse.CanonicalFilter(cheap)
	if got, ok := e.cand.Get(key); ok {
		return got
	}
	var out []string
	switch {
	case len(cheap) > 0:
		out = e.catalog.Matching(func(n string) bool {
			for i := range cheap {
				if !cheap[i].Match(n) {
					return false
				}
			}
			return true
		})
	case e.catalog.Len() == 0 && len(rich) > 0:
		// Catalog not bootstrapped yet; fall back to the upstream's
		// search service when one exists.
		if s, ok := e.adapter.(driver.Searcher); ok {
			found, err := s.Search(ctx, "", e.budget)
			if err == nil {
				out = found
			} else {
				zlog.Debug(ctx).Err(err).Msg("search fallback failed")
			}
		}
	default:
		out = e.catalog.All()
	}
	e.cand.Add(key, out)
	return out
}

// Resources produces one page of the filtered, sorted resource stream.
//
// pageLimit is the effective page size after flag handling; it must be >= 1.
// Enrichment of candidates is bounded by the engine's fetch budget; a fetch
// failure is fatal only when the page cannot be satisfied without it.
func (e *Engine) Resources(ctx context.Context, f *qparse.Flags, pageLimit int) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "filter/Engine.Resources")
	ctx, span := tracer.Start(ctx, "Resources")
	defer span.End()

	cheap, rich := e.split(f.Filters)
	if f.Sort != nil && !e.nameAttrs[f.Sort.Attr] && !sortable(f.Sort.Attr) {
		return nil, &xrbridge.Error{
			Kind:    xrbridge.ErrCapability,
			Message: fmt.Sprintf("unknown sort attribute %q", f.Sort.Attr),
			Op:      "filter.Resources",
		}
	}
	for _, c := range rich {
		if !sortable(c.Attr) {
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrCapability,
				Message: fmt.Sprintf("unknown filter attribute %q", c.Attr),
				Op:      "filter.Resources",
			}
		}
	}
	cand := e.candidates(ctx, cheap, rich)
	span.SetAttributes(attribute.Int("candidates", len(cand)))

	needRich := len(rich) > 0 || (f.Sort != nil && !e.nameAttrs[f.Sort.Attr])
	offset, limit := f.Offset, pageLimit
	if limit > e.budget {
		// Every page entity can cost an upstream fetch, so a page can
		// never be wider than the per-request fetch budget. The
		// narrowed page sets More and the next offset picks up the
		// remainder.
		limit = e.budget
	}

	var matched []Entity
	var truncated bool
	if !needRich {
		matched = make([]Entity, 0, len(cand))
		for _, n := range cand {
			matched = append(matched, Entity{Name: n})
		}
	} else {
		var err error
		matched, truncated, err = e.enrich(ctx, cand, rich, offset+limit)
		if err != nil {
			return nil, err
		}
	}

	e.sortEntities(matched, f.Sort)

	total := len(matched)
	res := &Result{Total: total}
	if offset < total {
		end := min(offset+limit, total)
		res.Page = matched[offset:end]
		res.More = end < total
	}
	if truncated {
		res.More = true
	}

	// Enrich the emitted page itself so listings can carry domain
	// attributes. The page is at most the fetch budget wide.
	if !needRich {
		if err := e.enrichPage(ctx, res.Page); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// enrich walks candidates in deterministic order fetching metadata under the
// budget, keeping those matching every rich clause. want is the match count
// after which enrichment failures become skippable.
func (e *Engine) enrich(ctx context.Context, cand []string, rich []qparse.Clause, want int) ([]Entity, bool, error) {
	budget := e.budget
	var out []Entity
	for len(cand) > 0 && budget > 0 {
		n := min(min(e.parallel, budget), len(cand))
		batch, rest := cand[:n], cand[n:]
		got := make([]*driver.Package, n)
		eg, ectx := errgroup.WithContext(ctx)
		for i, name := range batch {
			eg.Go(func() error {
				p, err := e.Get(ectx, name)
				if err != nil {
					if errors.Is(err, xrbridge.ErrNotFound) {
						return nil
					}
					if len(out) >= want {
						zlog.Debug(ectx).Err(err).Str("package", name).Msg("skipping failed enrichment, page satisfied")
						return nil
					}
					return err
				}
				got[i] = p
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, false, err
		}
		for _, p := range got {
			if p == nil {
				continue
			}
			ok := true
			for i := range rich {
				v, _ := attrValue(p, rich[i].Attr)
				if !rich[i].Match(v) {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, Entity{Name: p.Name, Pkg: p})
			}
		}
		budget -= n
		cand = rest
	}
	return out, len(cand) > 0, nil
}

// enrichPage fetches metadata for an already-selected page.
func (e *Engine) enrichPage(ctx context.Context, page []Entity) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallel)
	for i := range page {
		if page[i].Pkg != nil {
			continue
		}
		eg.Go(func() error {
			p, err := e.Get(ectx, page[i].Name)
			if err != nil {
				if errors.Is(err, xrbridge.ErrNotFound) {
					return nil
				}
				return err
			}
			page[i].Pkg = p
			return nil
		})
	}
	return eg.Wait()
}
