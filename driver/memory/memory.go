// Package memory provides an in-memory Adapter, used by tests and by the
// cataloghttp development binary's seed mode.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/xregistry/xrbridge/driver"
)

var _ driver.Adapter = (*Adapter)(nil)
var _ driver.Searcher = (*Adapter)(nil)

// Adapter serves package metadata from an in-memory table.
//
// The zero value is usable. All methods are safe for concurrent use.
type Adapter struct {
	// CaseFold makes name lookups case-insensitive, mimicking NuGet and
	// npm scope behaviour.
	CaseFold bool

	mu  sync.RWMutex
	pkg map[string]*driver.Package
	gen int
}

// New returns an Adapter pre-populated with the provided packages.
func New(pkgs ...*driver.Package) *Adapter {
	a := &Adapter{}
	a.Load(pkgs...)
	return a
}

// Load replaces or adds packages and advances the index fingerprint.
func (a *Adapter) Load(pkgs ...*driver.Package) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pkg == nil {
		a.pkg = make(map[string]*driver.Package)
	}
	for _, p := range pkgs {
		a.pkg[a.key(p.Name)] = p
	}
	a.gen++
}

// LoadFile loads a JSON seed file: an array of Package documents.
func (a *Adapter) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.LoadReader(f)
}

// LoadReader loads a JSON array of Package documents.
func (a *Adapter) LoadReader(r io.Reader) error {
	var pkgs []*driver.Package
	if err := json.NewDecoder(r).Decode(&pkgs); err != nil {
		return fmt.Errorf("memory: decoding seed: %w", err)
	}
	a.Load(pkgs...)
	return nil
}

func (a *Adapter) key(name string) string {
	if a.CaseFold {
		return strings.ToLower(name)
	}
	return name
}

// Name implements driver.Adapter.
func (*Adapter) Name() string { return `memory` }

// NormalizeName implements driver.Normalizer.
func (a *Adapter) NormalizeName(name string) string { return a.key(name) }

// Exists implements driver.Adapter.
func (a *Adapter) Exists(_ context.Context, name string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.pkg[a.key(name)]
	return ok, nil
}

// Get implements driver.Adapter.
func (a *Adapter) Get(_ context.Context, name string) (*driver.Package, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pkg[a.key(name)]
	if !ok {
		return nil, fmt.Errorf("memory: %q: %w", name, driver.ErrNotExist)
	}
	return p, nil
}

// ListNames implements driver.NameLister.
func (a *Adapter) ListNames(_ context.Context, hint driver.Fingerprint) ([]string, driver.Fingerprint, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fp := driver.Fingerprint(fmt.Sprintf("gen-%d", a.gen))
	if hint == fp {
		return nil, hint, driver.Unchanged
	}
	names := make([]string, 0, len(a.pkg))
	for _, p := range a.pkg {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, fp, nil
}

// Search implements driver.Searcher with a substring match.
func (a *Adapter) Search(_ context.Context, query string, limit int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q := strings.ToLower(query)
	var out []string
	for _, p := range a.pkg {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
