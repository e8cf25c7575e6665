package catalog

import (
	"context"
	"fmt"

	"github.com/package-url/packageurl-go"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/qparse"
)

// Root synthesises the root document for the provided effective base URL.
func (c *Catalog) Root(base string, f *qparse.Flags) *xrbridge.Registry {
	epoch, created, modified := c.stamp(xrbridge.RootXID)
	if f != nil && f.NoEpoch {
		epoch = 0
	}
	r := &xrbridge.Registry{
		SpecVersion:     xrbridge.SpecVersion,
		RegistryID:      c.opts.RegistryID,
		XID:             xrbridge.RootXID,
		Self:            xrbridge.SelfURL(base, xrbridge.RootXID),
		Epoch:           epoch,
		Docs:            c.opts.Docs,
		CreatedAt:       created,
		ModifiedAt:      modified,
		CapabilitiesURL: xrbridge.SelfURL(base, "/capabilities"),
		ModelURL:        xrbridge.SelfURL(base, "/model"),
		Collections: []xrbridge.Collection{{
			Name:  c.opts.GroupType,
			URL:   xrbridge.SelfURL(base, "/"+c.opts.GroupType),
			Count: 1,
		}},
	}
	return r
}

// Group synthesises the backend's single group entity.
func (c *Catalog) Group(base string, f *qparse.Flags) *xrbridge.Group {
	xid := xrbridge.GroupXID(c.opts.GroupType, c.opts.GroupID)
	epoch, created, modified := c.stamp(xid)
	if f != nil && f.NoEpoch {
		epoch = 0
	}
	return &xrbridge.Group{
		Singular:   c.opts.GroupSingular,
		ID:         c.opts.GroupID,
		XID:        xid,
		Self:       xrbridge.SelfURL(base, xid),
		Epoch:      epoch,
		Name:       c.opts.GroupID,
		CreatedAt:  created,
		ModifiedAt: modified,
		Collections: []xrbridge.Collection{{
			Name:  c.opts.ResourceType,
			URL:   xrbridge.SelfURL(base, xid+"/"+c.opts.ResourceType),
			Count: c.catalog.Len(),
		}},
	}
}

// Resource synthesises a resource entity from enriched package metadata.
func (c *Catalog) Resource(base string, pkg *driver.Package, f *qparse.Flags) *xrbridge.Resource {
	o := &c.opts
	xid := xrbridge.ResourceXID(o.GroupType, o.GroupID, o.ResourceType, pkg.Name)
	c.noteRevision(xid, pkg.ETag)
	epoch, created, modified := c.stamp(xid)
	if f != nil && f.NoEpoch {
		epoch = 0
	}
	r := &xrbridge.Resource{
		Singular:      o.ResourceSingular,
		ID:            pkg.Name,
		XID:           xid,
		Self:          xrbridge.SelfURL(base, xid),
		Epoch:         epoch,
		Name:          pkg.Name,
		Description:   pkg.Description,
		License:       pkg.License,
		Homepage:      pkg.Homepage,
		Repository:    pkg.Repository,
		CreatedAt:     created,
		ModifiedAt:    modified,
		MetaURL:       xrbridge.SelfURL(base, xrbridge.MetaXID(o.GroupType, o.GroupID, o.ResourceType, pkg.Name)),
		VersionsURL:   xrbridge.SelfURL(base, xid+"/versions"),
		VersionsCount: len(pkg.Versions),
	}
	if f.InlineWants("meta") || f.InlineWants(o.ResourceType+".meta") {
		r.Meta = c.Meta(base, pkg, f)
	}
	if f.InlineWants("versions") || f.InlineWants(o.ResourceType+".versions") {
		r.Versions = make(map[string]*xrbridge.Version, len(pkg.Versions))
		for i := range pkg.Versions {
			v := c.Version(base, pkg, &pkg.Versions[i], f)
			r.Versions[v.VersionID] = v
		}
	}
	return r
}

// Meta synthesises the stripped meta projection of a resource.
func (c *Catalog) Meta(base string, pkg *driver.Package, f *qparse.Flags) *xrbridge.Meta {
	o := &c.opts
	xid := xrbridge.MetaXID(o.GroupType, o.GroupID, o.ResourceType, pkg.Name)
	rxid := xrbridge.ResourceXID(o.GroupType, o.GroupID, o.ResourceType, pkg.Name)
	c.noteRevision(xid, pkg.ETag)
	epoch, created, modified := c.stamp(xid)
	m := &xrbridge.Meta{
		Singular:      o.ResourceSingular,
		ResourceID:    pkg.Name,
		XID:           xid,
		Self:          xrbridge.SelfURL(base, xid),
		Epoch:         epoch,
		ReadOnly:      true,
		Compatibility: "none",
		CreatedAt:     created,
		ModifiedAt:    modified,
	}
	if f != nil && f.NoEpoch {
		m.Epoch = 0
	}
	if pkg.DefaultVersion != "" && (f == nil || !f.NoDefaultVersionID) {
		m.DefaultVersionID = pkg.DefaultVersion
		m.DefaultVersionURL = xrbridge.SelfURL(base, rxid+"/versions/"+pkg.DefaultVersion)
	}
	if f == nil || !f.NoDefaultVersionSticky {
		sticky := false
		m.DefaultVersionSticky = &sticky
	}
	return m
}

// Version synthesises a version entity.
func (c *Catalog) Version(base string, pkg *driver.Package, pv *driver.PackageVersion, f *qparse.Flags) *xrbridge.Version {
	o := &c.opts
	xid := xrbridge.VersionXID(o.GroupType, o.GroupID, o.ResourceType, pkg.Name, pv.Version)
	epoch, created, modified := c.stamp(xid)
	if f != nil && f.NoEpoch {
		epoch = 0
	}
	v := &xrbridge.Version{
		Singular:    o.ResourceSingular,
		ResourceID:  pkg.Name,
		VersionID:   pv.Version,
		XID:         xid,
		Self:        xrbridge.SelfURL(base, xid),
		Epoch:       epoch,
		Name:        pkg.Name,
		Description: pv.Description,
		License:     pv.License,
		IsDefault:   pv.Version == pkg.DefaultVersion,
		CreatedAt:   created,
		ModifiedAt:  modified,
	}
	if o.PurlType != "" {
		v.PURL = packageurl.NewPackageURL(o.PurlType, "", pkg.Name, pv.Version, nil, "").ToString()
	}
	return v
}

// findVersion locates a version by id.
func findVersion(pkg *driver.Package, vid string) (*driver.PackageVersion, bool) {
	for i := range pkg.Versions {
		if pkg.Versions[i].Version == vid {
			return &pkg.Versions[i], true
		}
	}
	return nil, false
}

// getPackage fetches enriched metadata via the filter engine's shared cache
// and budget.
func (c *Catalog) getPackage(ctx context.Context, rid string) (*driver.Package, error) {
	if !c.catalog.Exists(rid) && c.catalog.Len() > 0 {
		// The catalog knows the full namespace; skip the upstream
		// round-trip for names it has never seen.
		return nil, c.err(xrbridge.ErrNotFound, "catalog.getPackage",
			fmt.Sprintf("%s %q not found", c.opts.ResourceSingular, rid))
	}
	return c.engine.Get(ctx, rid)
}
