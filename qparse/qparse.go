// Package qparse parses the xRegistry query flags: filter, sort, inline,
// limit, offset, doc, and the serialization toggles.
//
// The filter grammar accepted is "attr=value" and "attr!=value" with the "*"
// wildcard inside values; other operators are rejected with a capability
// error until the upstream specification firms up.
package qparse

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xregistry/xrbridge"
)

// Op is a filter clause operator.
type Op int

// Supported operators.
const (
	OpEq Op = iota
	OpNe
)

// Clause is one parsed filter flag. Multiple clauses are AND-combined.
type Clause struct {
	Attr  string
	Op    Op
	Value string

	re *regexp.Regexp
}

// Match reports whether v satisfies the clause. Matching is anchored and
// case-insensitive; "*" in the clause value matches any run of characters.
func (c *Clause) Match(v string) bool {
	var ok bool
	if c.re != nil {
		ok = c.re.MatchString(v)
	} else {
		ok = strings.EqualFold(v, c.Value)
	}
	if c.Op == OpNe {
		return !ok
	}
	return ok
}

// Sort is the parsed sort flag.
type Sort struct {
	Attr string
	Desc bool
}

// Flags is the full parsed flag set for one request.
type Flags struct {
	Filters []Clause
	Sort    *Sort
	Inline  map[string]bool
	// InlineAll is set by "inline=*".
	InlineAll bool
	Limit     int
	LimitSet  bool
	Offset    int

	Doc                    bool
	Epoch                  bool
	NoEpoch                bool
	NoReadonly             bool
	NoDefaultVersionID     bool
	NoDefaultVersionSticky bool
	Schema                 bool
	Collections            bool
	SpecVersion            string
}

// InlineWants reports whether the named child collection should be inlined.
func (f *Flags) InlineWants(name string) bool {
	if f == nil {
		return false
	}
	return f.InlineAll || f.Inline[name]
}

// known is the recognised flag set; anything else is a capability error.
var known = map[string]bool{
	"inline": true, "filter": true, "sort": true,
	"limit": true, "offset": true, "doc": true,
	"epoch": true, "noepoch": true, "noreadonly": true,
	"specversion": true, "nodefaultversionid": true,
	"nodefaultversionsticky": true, "schema": true, "collections": true,
}

// Parse parses the query flags for one request.
func Parse(q url.Values) (*Flags, error) {
	for k := range q {
		if !known[k] {
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrCapability,
				Message: fmt.Sprintf("unknown query flag %q", k),
				Op:      "qparse.Parse",
			}
		}
	}
	f := &Flags{
		Doc:                    q.Has("doc"),
		Epoch:                  q.Has("epoch"),
		NoEpoch:                q.Has("noepoch"),
		NoReadonly:             q.Has("noreadonly"),
		NoDefaultVersionID:     q.Has("nodefaultversionid"),
		NoDefaultVersionSticky: q.Has("nodefaultversionsticky"),
		Schema:                 q.Has("schema"),
		Collections:            q.Has("collections"),
		SpecVersion:            q.Get("specversion"),
	}

	for _, raw := range q["filter"] {
		c, err := parseClause(raw)
		if err != nil {
			return nil, err
		}
		f.Filters = append(f.Filters, *c)
	}

	if raw := q.Get("sort"); raw != "" {
		s, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		f.Sort = s
	}

	if raw := q.Get("inline"); raw != "" {
		f.Inline = make(map[string]bool)
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "*" {
				f.InlineAll = true
				continue
			}
			if part != "" {
				f.Inline[part] = true
			}
		}
	} else if q.Has("inline") {
		f.InlineAll = true
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrInvalidData,
				Message: fmt.Sprintf("limit must be an integer >= 1, got %q", raw),
				Op:      "qparse.Parse",
			}
		}
		f.Limit = n
		f.LimitSet = true
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrInvalidData,
				Message: fmt.Sprintf("offset must be an integer >= 0, got %q", raw),
				Op:      "qparse.Parse",
			}
		}
		f.Offset = n
	}
	return f, nil
}

// rejected operators, checked before the "=" split so "attr<=v" does not
// parse as attr "attr<".
var rejectedOps = []string{"<=", ">=", "<", ">"}

func parseClause(raw string) (*Clause, error) {
	for _, op := range rejectedOps {
		if strings.Contains(raw, op) {
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrCapability,
				Message: fmt.Sprintf("filter operator %q is not supported", op),
				Op:      "qparse.parseClause",
			}
		}
	}
	c := &Clause{Op: OpEq}
	var attr, value string
	var ok bool
	if attr, value, ok = strings.Cut(raw, "!="); ok {
		c.Op = OpNe
	} else if attr, value, ok = strings.Cut(raw, "="); !ok {
		return nil, &xrbridge.Error{
			Kind:    xrbridge.ErrCapability,
			Message: fmt.Sprintf("presence filter %q is not supported", raw),
			Op:      "qparse.parseClause",
		}
	}
	if attr == "" || strings.ContainsAny(attr, "*!") {
		return nil, &xrbridge.Error{
			Kind:    xrbridge.ErrInvalidData,
			Message: fmt.Sprintf("malformed filter %q", raw),
			Op:      "qparse.parseClause",
		}
	}
	c.Attr = strings.ToLower(attr)
	c.Value = value
	if strings.Contains(value, "*") {
		c.re = wildRegexp(value)
	}
	return c, nil
}

func wildRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?i)^`)
	for i, part := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(`.*`)
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	return regexp.MustCompile(b.String() + `$`)
}

func parseSort(raw string) (*Sort, error) {
	attr, dir, hasDir := strings.Cut(raw, "=")
	if attr == "" {
		return nil, &xrbridge.Error{
			Kind:    xrbridge.ErrInvalidData,
			Message: fmt.Sprintf("malformed sort %q", raw),
			Op:      "qparse.parseSort",
		}
	}
	s := &Sort{Attr: strings.ToLower(attr)}
	if hasDir {
		switch dir {
		case "asc":
		case "desc":
			s.Desc = true
		default:
			return nil, &xrbridge.Error{
				Kind:    xrbridge.ErrInvalidData,
				Message: fmt.Sprintf("sort direction must be asc or desc, got %q", dir),
				Op:      "qparse.parseSort",
			}
		}
	}
	return s, nil
}

// CanonicalFilter returns the normalised filter tuple, used as a cache key.
func CanonicalFilter(cs []Clause) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		op := "="
		if c.Op == OpNe {
			op = "!="
		}
		parts = append(parts, c.Attr+op+strings.ToLower(c.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}
