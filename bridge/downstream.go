package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quay/zlog"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/internal/cache"
	ihttputil "github.com/xregistry/xrbridge/internal/httputil"
)

// Downstream is one backend behind the bridge: its claimed group
// namespaces, probe state, and the registry fragments cached at
// initialization time.
type Downstream struct {
	cfg    DownstreamConfig
	target *url.URL
	client *http.Client
	proxy  *httputil.ReverseProxy
	disk   *cache.Disk

	mu           sync.Mutex
	initialized  bool
	healthy      bool
	lastProbe    time.Time
	lastErr      string
	model        json.RawMessage
	capabilities json.RawMessage
	// counts holds the "{groupType}count" members observed on the
	// downstream's root document.
	counts map[string]int
}

func newDownstream(cfg DownstreamConfig, client *http.Client, disk *cache.Disk) (*Downstream, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if client == nil {
		timeout := 30 * time.Second
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout.Std()
		}
		client = &http.Client{Timeout: timeout}
	}
	d := &Downstream{
		cfg:    cfg,
		target: u,
		client: client,
		disk:   disk,
		counts: make(map[string]int),
	}
	d.loadCached()
	return d, nil
}

// loadCached restores the model and capabilities fragments from the disk
// cache, so a downstream that is down at startup still contributes to the
// merged documents. Probe state is untouched; the downstream stays
// uninitialized until a live exchange succeeds.
func (d *Downstream) loadCached() {
	if d.disk == nil {
		return
	}
	if e, err := d.disk.Get(d.cfg.URL + "/capabilities"); err == nil && e != nil {
		d.capabilities = e.Body
	}
	if e, err := d.disk.Get(d.cfg.URL + "/model"); err == nil && e != nil {
		d.model = e.Body
	}
	if e, err := d.disk.Get(d.cfg.URL + "/"); err == nil && e != nil {
		for k, v := range extractCounts(e.Body) {
			d.counts[k] = v
		}
	}
}

// storeCached write-throughs the fetched fragments.
func (d *Downstream) storeCached(ctx context.Context, caps, model, root json.RawMessage) {
	if d.disk == nil {
		return
	}
	now := time.Now()
	for path, body := range map[string]json.RawMessage{
		"/capabilities": caps,
		"/model":        model,
		"/":             root,
	} {
		e := &cache.Entry{URL: d.cfg.URL + path, FetchedAt: now, Body: body}
		if err := d.disk.Put(e); err != nil {
			zlog.Warn(ctx).Err(err).Msg("failed to cache registry fragment")
		}
	}
}

// URL reports the downstream's configured base URL.
func (d *Downstream) URL() string { return d.cfg.URL }

// Groups reports the group namespaces this downstream claims.
func (d *Downstream) Groups() []GroupRef { return d.cfg.Groups }

// Ready reports whether the downstream is initialized and passing health
// probes.
func (d *Downstream) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized && d.healthy
}

// Initialized reports whether the initial capability exchange succeeded.
func (d *Downstream) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// snapshot copies the mutable probe state for health reporting.
func (d *Downstream) snapshot() (initialized, healthy bool, lastProbe time.Time, lastErr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized, d.healthy, d.lastProbe, d.lastErr
}

// fragments returns the cached model and capabilities documents, which may
// be nil before initialization.
func (d *Downstream) fragments() (model, capabilities json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model, d.capabilities
}

// count reports the cached group count for a type, falling back to the
// number of configured claims.
func (d *Downstream) count(groupType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.counts[groupType]; ok {
		return n
	}
	n := 0
	for _, g := range d.cfg.Groups {
		if g.Type == groupType {
			n++
		}
	}
	return n
}

// fetchJSON retrieves one well-known document from the downstream.
func (d *Downstream) fetchJSON(ctx context.Context, path string) (json.RawMessage, error) {
	u := *d.target
	u.Path += path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := ihttputil.CheckResponse(res, http.StatusOK); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: decoding body: %w", path, err)
	}
	return raw, nil
}

// initialize performs the capability exchange: it fetches and caches the
// downstream's capabilities, model, and root document.
func (d *Downstream) initialize(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "downstream", d.cfg.URL)
	caps, err := d.fetchJSON(ctx, "/capabilities")
	if err != nil {
		d.observe(false, err)
		return &xrbridge.Error{Kind: xrbridge.ErrUnavailable, Op: "bridge.initialize", Inner: err}
	}
	model, err := d.fetchJSON(ctx, "/model")
	if err != nil {
		d.observe(false, err)
		return &xrbridge.Error{Kind: xrbridge.ErrUnavailable, Op: "bridge.initialize", Inner: err}
	}
	root, err := d.fetchJSON(ctx, "/")
	if err != nil {
		d.observe(false, err)
		return &xrbridge.Error{Kind: xrbridge.ErrUnavailable, Op: "bridge.initialize", Inner: err}
	}
	counts := extractCounts(root)
	d.storeCached(ctx, caps, model, root)

	d.mu.Lock()
	d.capabilities = caps
	d.model = model
	for k, v := range counts {
		d.counts[k] = v
	}
	d.initialized = true
	d.healthy = true
	d.lastProbe = time.Now()
	d.lastErr = ""
	d.mu.Unlock()
	zlog.Info(ctx).Msg("downstream initialized")
	return nil
}

// probe checks liveness with a root read. It reports whether the health
// state transitioned.
func (d *Downstream) probe(ctx context.Context) (transitioned bool) {
	_, err := d.fetchJSON(ctx, "/")
	return d.observe(err == nil, err)
}

// observe records a probe outcome and reports whether the healthy flag
// flipped.
func (d *Downstream) observe(healthy bool, err error) (transitioned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	transitioned = d.initialized && d.healthy != healthy
	d.healthy = healthy
	d.lastProbe = time.Now()
	if err != nil {
		d.lastErr = err.Error()
	} else {
		d.lastErr = ""
	}
	return transitioned
}

// extractCounts pulls the "{name}count" members out of a root document.
func extractCounts(root json.RawMessage) map[string]int {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(root, &doc); err != nil {
		return nil
	}
	counts := make(map[string]int)
	for k, v := range doc {
		name, ok := strings.CutSuffix(k, "count")
		if !ok || name == "" {
			continue
		}
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			counts[name] = n
		}
	}
	return counts
}
