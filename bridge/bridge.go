// Package bridge merges several per-backend xRegistry services into one
// consolidated registry: a merged root, model, and capabilities document,
// plus transparent proxying of group-scoped requests to the downstream
// that owns the group namespace.
package bridge

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/internal/cache"
	"github.com/xregistry/xrbridge/internal/estate"
)

// Options configures a Bridge.
type Options struct {
	// RegistryID is the registryid emitted on the merged root document.
	RegistryID string
	// BaseURL is the configured fallback effective base URL.
	BaseURL string
	// BaseURLHeader overrides the default "x-base-url" header name.
	BaseURLHeader string
	// ProxyTimeout bounds a single proxied request.
	ProxyTimeout time.Duration
	// Client is used for downstream probes. Proxied requests use the
	// default transport.
	Client *http.Client
	// CacheDir, when set, persists downstream model and capabilities
	// fragments so restarts can merge them before the backends answer.
	CacheDir string
	// Docs is an optional documentation URL emitted on the root.
	Docs string
}

// Bridge is the consolidated registry front.
type Bridge struct {
	opts  Options
	state *estate.Manager

	downstreams []*Downstream
	// byInstance routes "type/id" claims; byType routes whole-type claims
	// and is the fallback when the request names no group id.
	byInstance map[string]*Downstream
	byType     map[string]*Downstream
	groupTypes []string
}

// New assembles a Bridge over the validated downstream declarations.
func New(cfgs []DownstreamConfig, state *estate.Manager, opts Options) (*Bridge, error) {
	if opts.ProxyTimeout == 0 {
		opts.ProxyTimeout = 30 * time.Second
	}
	if state == nil {
		state = estate.New()
	}
	b := &Bridge{
		opts:       opts,
		state:      state,
		byInstance: make(map[string]*Downstream),
		byType:     make(map[string]*Downstream),
	}
	var disk *cache.Disk
	if opts.CacheDir != "" {
		var err error
		disk, err = cache.Open(opts.CacheDir)
		if err != nil {
			return nil, err
		}
	}
	seenType := make(map[string]bool)
	for _, cfg := range cfgs {
		d, err := newDownstream(cfg, opts.Client, disk)
		if err != nil {
			return nil, err
		}
		d.buildProxy(b)
		b.downstreams = append(b.downstreams, d)
		for _, g := range cfg.Groups {
			if g.ID != "" {
				b.byInstance[g.String()] = d
			}
			// First claimant wins the type-level route; ParseDownstreams
			// already rejected exact duplicates.
			if _, ok := b.byType[g.Type]; !ok {
				b.byType[g.Type] = d
			}
			if !seenType[g.Type] {
				seenType[g.Type] = true
				b.groupTypes = append(b.groupTypes, g.Type)
			}
		}
	}
	sort.Strings(b.groupTypes)
	return b, nil
}

// Downstreams returns the configured downstream set.
func (b *Bridge) Downstreams() []*Downstream { return b.downstreams }

// route resolves the downstream owning a group namespace. The group id may
// be empty for type-level requests.
func (b *Bridge) route(groupType, groupID string) *Downstream {
	if groupID != "" {
		if d, ok := b.byInstance[groupType+"/"+groupID]; ok {
			return d
		}
	}
	return b.byType[groupType]
}

// root builds the merged root document for the given effective base URL.
func (b *Bridge) root(base string) *xrbridge.Registry {
	epoch := b.state.Epoch(xrbridge.RootXID)
	reg := &xrbridge.Registry{
		SpecVersion:     xrbridge.SpecVersion,
		RegistryID:      b.opts.RegistryID,
		XID:             xrbridge.RootXID,
		Self:            xrbridge.SelfURL(base, xrbridge.RootXID),
		Epoch:           epoch,
		Docs:            b.opts.Docs,
		CreatedAt:       b.state.CreatedAt(xrbridge.RootXID).UTC().Format(time.RFC3339),
		ModifiedAt:      b.state.ModifiedAt(xrbridge.RootXID).UTC().Format(time.RFC3339),
		CapabilitiesURL: base + "/capabilities",
		ModelURL:        base + "/model",
	}
	for _, gt := range b.groupTypes {
		n := 0
		for _, d := range b.downstreams {
			n += d.count(gt)
		}
		reg.Collections = append(reg.Collections, xrbridge.Collection{
			Name:  gt,
			URL:   base + "/" + gt,
			Count: n,
		})
	}
	return reg
}

// model merges the cached downstream model fragments: the union of their
// "groups" maps. Overlapping types keep the first fragment seen, which can
// only happen when several downstreams partition one group type and so
// share the type definition.
func (b *Bridge) model() json.RawMessage {
	groups := make(map[string]json.RawMessage)
	for _, d := range b.downstreams {
		frag, _ := d.fragments()
		if frag == nil {
			continue
		}
		var doc struct {
			Groups map[string]json.RawMessage `json:"groups"`
		}
		if err := json.Unmarshal(frag, &doc); err != nil {
			continue
		}
		for k, v := range doc.Groups {
			if _, ok := groups[k]; !ok {
				groups[k] = v
			}
		}
	}
	out, _ := json.Marshal(map[string]any{"groups": groups})
	return out
}

// capabilities merges the cached downstream capability documents: list
// members are unioned, booleans are ANDed, anything else keeps the first
// value seen.
func (b *Bridge) capabilities() json.RawMessage {
	merged := make(map[string]any)
	for _, d := range b.downstreams {
		_, frag := d.fragments()
		if frag == nil {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(frag, &doc); err != nil {
			continue
		}
		for k, v := range doc {
			prev, ok := merged[k]
			if !ok {
				merged[k] = v
				continue
			}
			switch pv := prev.(type) {
			case []any:
				if nv, ok := v.([]any); ok {
					merged[k] = unionAny(pv, nv)
				}
			case bool:
				if nv, ok := v.(bool); ok {
					merged[k] = pv && nv
				}
			}
		}
	}
	out, _ := json.Marshal(merged)
	return out
}

// unionAny appends the members of b not already in a, preserving order.
func unionAny(a, b []any) []any {
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		k, _ := json.Marshal(v)
		seen[string(k)] = true
	}
	for _, v := range b {
		k, _ := json.Marshal(v)
		if !seen[string(k)] {
			seen[string(k)] = true
			a = append(a, v)
		}
	}
	return a
}
