package filter

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/qparse"
)

// fold is the case folder used for sort keys and comparisons; Unicode
// code-point order with case folding, per the listing contract.
var fold = cases.Fold()

// attrs is the filterable/sortable attribute set carried by enriched
// entities.
var attrs = map[string]func(*driver.Package) (string, bool){
	"name":        func(p *driver.Package) (string, bool) { return p.Name, true },
	"description": func(p *driver.Package) (string, bool) { return p.Description, p.Description != "" },
	"license":     func(p *driver.Package) (string, bool) { return p.License, p.License != "" },
	"homepage":    func(p *driver.Package) (string, bool) { return p.Homepage, p.Homepage != "" },
	"repository":  func(p *driver.Package) (string, bool) { return p.Repository, p.Repository != "" },
	"defaultversionid": func(p *driver.Package) (string, bool) {
		return p.DefaultVersion, p.DefaultVersion != ""
	},
	"versionscount": func(p *driver.Package) (string, bool) {
		return strconv.Itoa(len(p.Versions)), true
	},
}

func sortable(attr string) bool {
	_, ok := attrs[attr]
	return ok
}

func attrValue(p *driver.Package, attr string) (string, bool) {
	fn, ok := attrs[attr]
	if !ok {
		return "", false
	}
	return fn(p)
}

// sortEntities orders entities by the sort key with a stable tie-break on
// name (the xid discriminator within one collection). Missing attributes
// sort last ascending, first descending. Values that both parse as floats
// compare numerically.
func (e *Engine) sortEntities(ents []Entity, s *qparse.Sort) {
	attr := "name"
	desc := false
	if s != nil {
		attr, desc = s.Attr, s.Desc
	}
	sort.SliceStable(ents, func(i, j int) bool {
		vi, oki := entityAttr(&ents[i], attr, e.nameAttrs)
		vj, okj := entityAttr(&ents[j], attr, e.nameAttrs)
		if oki != okj {
			// Missing sorts last ascending; the direction flip
			// below then puts it first descending.
			if desc {
				return okj
			}
			return oki
		}
		c := compare(vi, vj)
		if c == 0 {
			return ents[i].Name < ents[j].Name
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func entityAttr(e *Entity, attr string, nameAttrs map[string]bool) (string, bool) {
	if nameAttrs[attr] {
		return e.Name, true
	}
	if e.Pkg == nil {
		return "", false
	}
	return attrValue(e.Pkg, attr)
}

func compare(a, b string) int {
	if fa, err := strconv.ParseFloat(a, 64); err == nil {
		if fb, err := strconv.ParseFloat(b, 64); err == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fold.String(a), fold.String(b))
}
