package catalog

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/internal/httputil"
	"github.com/xregistry/xrbridge/pkg/problem"
	"github.com/xregistry/xrbridge/qparse"
)

var _ http.Handler = (*HTTP)(nil)

// HTTP is the read-only xRegistry surface of one backend.
type HTTP struct {
	*http.ServeMux
	c *Catalog
}

// NewHandler builds the HTTP surface for a Catalog.
func NewHandler(c *Catalog) *HTTP {
	h := &HTTP{c: c}
	m := http.NewServeMux()
	m.HandleFunc("GET /{$}", h.Root)
	m.HandleFunc("GET /model", h.Model)
	m.HandleFunc("GET /capabilities", h.Capabilities)
	m.HandleFunc("GET /export", h.Export)
	m.HandleFunc("GET /{gt}", h.Groups)
	m.HandleFunc("GET /{gt}/{gid}", h.Group)
	m.HandleFunc("GET /{gt}/{gid}/{rt}", h.Resources)
	m.HandleFunc("GET /{gt}/{gid}/{rt}/{rid}", h.Resource)
	m.HandleFunc("GET /{gt}/{gid}/{rt}/{rid}/meta", h.Meta)
	m.HandleFunc("GET /{gt}/{gid}/{rt}/{rid}/versions", h.Versions)
	m.HandleFunc("GET /{gt}/{gid}/{rt}/{rid}/versions/{vid}", h.Version)
	m.HandleFunc("GET /{gt}/{gid}/{rt}/{rid}/versions/{vid}/meta", h.VersionMeta)
	m.HandleFunc("/", h.NotFound)
	h.ServeMux = m
	return h
}

func (h *HTTP) base(r *http.Request) string {
	return httputil.BaseURL(r, h.c.opts.BaseURL, h.c.opts.BaseURLHeader)
}

// flags parses the query flags, replying with a problem document on error.
func (h *HTTP) flags(w http.ResponseWriter, r *http.Request) (*qparse.Flags, bool) {
	f, err := qparse.Parse(r.URL.Query())
	if err != nil {
		problem.FromError(w, r, err)
		return nil, false
	}
	return f, true
}

// checkGroup validates the {gt}/{gid} path values against the backend's
// declared group.
func (h *HTTP) checkGroup(w http.ResponseWriter, r *http.Request, needResource bool) bool {
	o := &h.c.opts
	if gt := r.PathValue("gt"); gt != o.GroupType {
		problem.FromError(w, r, h.c.err(xrbridge.ErrAPINotFound, "catalog.http",
			fmt.Sprintf("unknown group type %q", gt)))
		return false
	}
	if gid := r.PathValue("gid"); gid != "" && gid != o.GroupID {
		problem.FromError(w, r, h.c.err(xrbridge.ErrNotFound, "catalog.http",
			fmt.Sprintf("unknown group %q", gid)))
		return false
	}
	if needResource {
		if rt := r.PathValue("rt"); rt != o.ResourceType {
			problem.FromError(w, r, h.c.err(xrbridge.ErrAPINotFound, "catalog.http",
				fmt.Sprintf("unknown resource type %q", rt)))
			return false
		}
	}
	return true
}

// NotFound replies with the api_not_found problem.
func (h *HTTP) NotFound(w http.ResponseWriter, r *http.Request) {
	problem.FromError(w, r, h.c.err(xrbridge.ErrAPINotFound, "catalog.http",
		"no such API route"))
}

// Root serves the root document, honouring doc-mode inlining.
func (h *HTTP) Root(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok {
		return
	}
	base := h.base(r)
	reg := h.c.Root(base, f)
	if f.InlineWants("capabilities") {
		reg.Capabilities = h.c.Capabilities()
	}
	if f.InlineWants("model") {
		reg.Model = h.c.Model()
	}
	if f.InlineWants("modelsource") {
		reg.ModelSource = h.c.Model()
	}
	if f.Doc || f.InlineWants(h.c.opts.GroupType) {
		g := h.c.Group(base, f)
		if f.Doc || f.InlineWants(h.c.opts.GroupType+"."+h.c.opts.ResourceType) {
			// A document embeds the whole collection, so walk every page.
			// Each page is enriched under its own fetch budget.
			rs := make(map[string]*xrbridge.Resource)
			for off := 0; ; {
				pf := &qparse.Flags{InlineAll: f.InlineAll, Offset: off}
				res, err := h.c.engine.Resources(r.Context(), pf, h.c.opts.PageLimit)
				if err != nil {
					problem.FromError(w, r, err)
					return
				}
				for _, ent := range res.Page {
					if ent.Pkg == nil {
						continue
					}
					rr := h.c.Resource(base, ent.Pkg, f)
					rs[rr.ID] = rr
				}
				if !res.More || len(res.Page) == 0 {
					break
				}
				off += len(res.Page)
			}
			g.Resources = map[string]map[string]*xrbridge.Resource{
				h.c.opts.ResourceType: rs,
			}
		}
		reg.Groups = map[string]map[string]*xrbridge.Group{
			h.c.opts.GroupType: {h.c.opts.GroupID: g},
		}
	}
	h.writeEntity(w, r, xrbridge.RootXID, reg.Epoch, reg)
}

// Model serves the backend's model fragment.
func (h *HTTP) Model(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.c.Model())
}

// Capabilities serves the backend's capabilities document.
func (h *HTTP) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.c.Capabilities())
}

// Export redirects to the doc-mode root.
func (h *HTTP) Export(w http.ResponseWriter, r *http.Request) {
	u := url.URL{Path: "/", RawQuery: "doc&inline=*,capabilities,modelsource"}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// Groups serves the group listing (a single group per backend).
func (h *HTTP) Groups(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, false) {
		return
	}
	g := h.c.Group(h.base(r), f)
	writeJSON(w, r, map[string]*xrbridge.Group{g.ID: g})
}

// Group serves one group entity.
func (h *HTTP) Group(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, false) {
		return
	}
	g := h.c.Group(h.base(r), f)
	h.writeEntity(w, r, g.XID, g.Epoch, g)
}

// Resources serves the filtered, sorted, paged resource listing.
func (h *HTTP) Resources(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	limit := min(h.c.pageLimit(f.Limit, f.LimitSet), h.c.engine.MaxPage())
	res, err := h.c.engine.Resources(r.Context(), f, limit)
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	base := h.base(r)
	out := make(map[string]*xrbridge.Resource, len(res.Page))
	for _, ent := range res.Page {
		if ent.Pkg == nil {
			continue
		}
		rr := h.c.Resource(base, ent.Pkg, f)
		out[rr.ID] = rr
	}
	if res.More {
		w.Header().Set("Link", nextLink(r, f.Offset+limit))
	}
	writeJSON(w, r, out)
}

// nextLink builds the rel="next" link for a listing, preserving the other
// query flags.
func nextLink(r *http.Request, offset int) string {
	q := r.URL.Query()
	q.Set("offset", strconv.Itoa(offset))
	u := *r.URL
	u.RawQuery = q.Encode()
	return fmt.Sprintf(`<%s>; rel="next"`, u.RequestURI())
}

// Resource serves one resource entity.
func (h *HTTP) Resource(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	pkg, err := h.c.getPackage(r.Context(), r.PathValue("rid"))
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	res := h.c.Resource(h.base(r), pkg, f)
	h.writeEntity(w, r, res.XID, res.Epoch, res)
}

// Meta serves the meta projection of a resource.
func (h *HTTP) Meta(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	pkg, err := h.c.getPackage(r.Context(), r.PathValue("rid"))
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	m := h.c.Meta(h.base(r), pkg, f)
	h.writeEntity(w, r, m.XID, m.Epoch, m)
}

// Versions serves the version listing of a resource.
func (h *HTTP) Versions(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	pkg, err := h.c.getPackage(r.Context(), r.PathValue("rid"))
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	base := h.base(r)
	order := orderVersions(pkg)
	limit := h.c.pageLimit(f.Limit, f.LimitSet)
	total := len(order)
	out := make(map[string]*xrbridge.Version)
	if f.Offset < total {
		end := min(f.Offset+limit, total)
		for _, i := range order[f.Offset:end] {
			v := h.c.Version(base, pkg, &pkg.Versions[i], f)
			out[v.VersionID] = v
		}
		if end < total {
			w.Header().Set("Link", nextLink(r, f.Offset+limit))
		}
	}
	writeJSON(w, r, out)
}

// Version serves one version entity.
func (h *HTTP) Version(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	pkg, err := h.c.getPackage(r.Context(), r.PathValue("rid"))
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	vid := r.PathValue("vid")
	pv, ok := findVersion(pkg, vid)
	if !ok {
		problem.FromError(w, r, h.c.err(xrbridge.ErrNotFound, "catalog.http",
			fmt.Sprintf("unknown version %q", vid)))
		return
	}
	v := h.c.Version(h.base(r), pkg, pv, f)
	h.writeEntity(w, r, v.XID, v.Epoch, v)
}

// VersionMeta serves the meta projection scoped to one version.
func (h *HTTP) VersionMeta(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flags(w, r)
	if !ok || !h.checkGroup(w, r, true) {
		return
	}
	pkg, err := h.c.getPackage(r.Context(), r.PathValue("rid"))
	if err != nil {
		problem.FromError(w, r, err)
		return
	}
	vid := r.PathValue("vid")
	if _, ok := findVersion(pkg, vid); !ok {
		problem.FromError(w, r, h.c.err(xrbridge.ErrNotFound, "catalog.http",
			fmt.Sprintf("unknown version %q", vid)))
		return
	}
	m := h.c.Meta(h.base(r), pkg, f)
	h.writeEntity(w, r, m.XID, m.Epoch, m)
}
