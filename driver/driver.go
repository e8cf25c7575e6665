// Package driver defines the contract between the catalog engine and the
// per-upstream adapters (npm, PyPI, Maven, NuGet, OCI, MCP).
//
// Adapters are external collaborators: this module ships only the contract
// and an in-memory implementation for development and tests.
package driver

import (
	"context"
	"errors"
)

// Adapter fetches package metadata from one upstream registry.
//
// Implementations must be safe for concurrent use; the filter engine fans
// out Get calls under a bounded parallelism budget.
type Adapter interface {
	// Name reports a stable identifier for the upstream, used for logging
	// and cache directories.
	Name() string

	// Exists reports whether the named package exists upstream.
	Exists(ctx context.Context, name string) (bool, error)

	// Get returns the full metadata for the named package.
	//
	// A missing package is reported with an error satisfying
	// errors.Is(err, ErrNotExist).
	Get(ctx context.Context, name string) (*Package, error)

	NameLister
}

// NameLister enumerates the complete set of package identifiers an upstream
// holds.
//
// When called the implementation should determine if the upstream's index
// has changed since the state identified by the passed Fingerprint (an ETag,
// Last-Modified value, or upstream cursor such as a NuGet commitTimeStamp).
// If the index is unchanged, [Unchanged] must be returned. Otherwise the
// implementation returns the full name set and a new Fingerprint identifying
// it.
type NameLister interface {
	ListNames(ctx context.Context, hint Fingerprint) ([]string, Fingerprint, error)
}

// Searcher is an optional interface an Adapter may implement when the
// upstream offers a search service. The filter engine uses it to narrow the
// candidate set before enrichment.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Normalizer is an optional interface an Adapter may implement to control
// name matching. Upstreams that are case-insensitive (NuGet, npm scopes)
// fold names; PyPI applies PEP 503 normalisation; Maven coordinates are
// matched verbatim.
type Normalizer interface {
	NormalizeName(name string) string
}

// Unchanged is returned by NameLister implementations when the upstream
// index has not changed.
var Unchanged = errors.New("upstream index unchanged")

// ErrNotExist is the sentinel for a package that does not exist upstream.
var ErrNotExist = errors.New("package does not exist")

// Fingerprint is some identifying information about an upstream index or
// document, used to make refreshes and fetches conditional.
type Fingerprint string

// Package is the enriched metadata for one package.
type Package struct {
	Name        string
	Description string
	License     string
	Homepage    string
	Repository  string

	// DefaultVersion is the upstream's notion of the current version
	// (npm "latest", PyPI newest release, ...).
	DefaultVersion string

	// Versions in upstream publication order when known.
	Versions []PackageVersion

	// ETag identifies this revision of the metadata; the catalog engine
	// bumps entity epochs when it changes.
	ETag Fingerprint
}

// PackageVersion is the per-version slice of a Package.
type PackageVersion struct {
	Version     string
	Description string
	License     string
}

// ConfigUnmarshaler deserializes an adapter's configuration into the
// provided value.
type ConfigUnmarshaler func(any) error

// Configurable is implemented by adapters that accept configuration before
// use.
type Configurable interface {
	Configure(ctx context.Context, f ConfigUnmarshaler) error
}
