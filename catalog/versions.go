package catalog

import (
	"sort"

	"github.com/Masterminds/semver"

	"github.com/xregistry/xrbridge/driver"
)

// orderVersions returns version indices in listing order: semantic-version
// order when every id parses, code-point order otherwise.
func orderVersions(pkg *driver.Package) []int {
	idx := make([]int, len(pkg.Versions))
	for i := range idx {
		idx[i] = i
	}
	parsed := make([]*semver.Version, len(pkg.Versions))
	allSemver := true
	for i := range pkg.Versions {
		v, err := semver.NewVersion(pkg.Versions[i].Version)
		if err != nil {
			allSemver = false
			break
		}
		parsed[i] = v
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if allSemver {
			return parsed[i].LessThan(parsed[j])
		}
		return pkg.Versions[i].Version < pkg.Versions[j].Version
	})
	return idx
}
