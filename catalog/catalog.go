// Package catalog assembles the xRegistry response set for one backend:
// root, model, capabilities, and the group/resource/version hierarchy,
// synthesised from upstream package metadata.
package catalog

import (
	"sync"
	"time"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/filter"
	"github.com/xregistry/xrbridge/internal/estate"
	"github.com/xregistry/xrbridge/names"
)

// DefaultPageLimit is the page size used when no limit flag is present.
const DefaultPageLimit = 50

// Options configures a Catalog.
type Options struct {
	// RegistryID is the registryid emitted at the root.
	RegistryID string
	// GroupType and GroupID identify the single group this backend
	// contributes, e.g. ("noderegistries", "npmjs.org").
	GroupType     string
	GroupSingular string
	GroupID       string
	// ResourceType names the resource collection, e.g. "packages".
	ResourceType     string
	ResourceSingular string
	// PurlType, when set, enables purl synthesis on versions ("npm",
	// "pypi", "maven", "nuget", "oci", "generic").
	PurlType string
	// BaseURL is the configured fallback effective base URL.
	BaseURL string
	// BaseURLHeader overrides the default "x-base-url" header name.
	BaseURLHeader string
	// PageLimit is the default page size.
	PageLimit int
	// Docs is an optional documentation URL emitted at the root.
	Docs string
}

// Catalog is the per-backend catalog engine.
type Catalog struct {
	opts    Options
	adapter driver.Adapter
	catalog *names.Catalog
	engine  *filter.Engine
	state   *estate.Manager

	revMu sync.Mutex
	rev   map[string]driver.Fingerprint
}

// New assembles a Catalog from its collaborators.
func New(adapter driver.Adapter, nameCatalog *names.Catalog, engine *filter.Engine, state *estate.Manager, opts Options) *Catalog {
	if opts.PageLimit == 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.GroupSingular == "" {
		opts.GroupSingular = singular(opts.GroupType)
	}
	if opts.ResourceSingular == "" {
		opts.ResourceSingular = singular(opts.ResourceType)
	}
	return &Catalog{
		opts:    opts,
		adapter: adapter,
		catalog: nameCatalog,
		engine:  engine,
		state:   state,
		rev:     make(map[string]driver.Fingerprint),
	}
}

// singular trims a plural collection name; good enough for the declared
// group and resource types ("packages" → "package").
func singular(plural string) string {
	if n := len(plural); n > 1 && plural[n-1] == 's' {
		return plural[:n-1]
	}
	return plural
}

// noteRevision records the upstream revision observed for an entity path,
// bumping its epoch when the revision changed.
func (c *Catalog) noteRevision(path string, fp driver.Fingerprint) {
	c.revMu.Lock()
	defer c.revMu.Unlock()
	prev, seen := c.rev[path]
	if seen && prev == fp {
		return
	}
	c.rev[path] = fp
	if seen {
		c.state.Increment(path)
	}
}

// stamp returns the epoch and formatted timestamps for a path.
func (c *Catalog) stamp(path string) (epoch uint64, created, modified string) {
	epoch = c.state.Epoch(path)
	created = c.state.CreatedAt(path).UTC().Format(time.RFC3339)
	modified = c.state.ModifiedAt(path).UTC().Format(time.RFC3339)
	return epoch, created, modified
}

// pageLimit resolves the effective page size for a request.
func (c *Catalog) pageLimit(limit int, set bool) int {
	if set {
		return limit
	}
	return c.opts.PageLimit
}

// Err is a convenience constructor for this package's error domain.
func (c *Catalog) err(kind xrbridge.ErrorKind, op, msg string) error {
	return &xrbridge.Error{Kind: kind, Message: msg, Op: op}
}
