package qparse

import (
	"errors"
	"net/url"
	"testing"

	"github.com/xregistry/xrbridge"
)

func mustParse(t *testing.T, rawQuery string) *Flags {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Parse(q)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func parseErr(t *testing.T, rawQuery string) error {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Parse(q)
	if err == nil {
		t.Fatalf("%q: expected error", rawQuery)
	}
	return err
}

func TestFilterClauses(t *testing.T) {
	f := mustParse(t, "filter=name=*azure*&filter=license!=MIT")
	if len(f.Filters) != 2 {
		t.Fatalf("got %d clauses", len(f.Filters))
	}
	c := f.Filters[0]
	if c.Attr != "name" || c.Op != OpEq {
		t.Errorf("unexpected clause %+v", c)
	}
	for v, want := range map[string]bool{
		"azure-core":    true,
		"msazurething":  true,
		"AZURE":         true,
		"cloud-toolkit": false,
	} {
		if got := c.Match(v); got != want {
			t.Errorf("Match(%q): got %v, want %v", v, got, want)
		}
	}
	ne := f.Filters[1]
	if ne.Op != OpNe {
		t.Fatalf("unexpected clause %+v", ne)
	}
	if ne.Match("MIT") || ne.Match("mit") {
		t.Error("!= should reject equal values case-insensitively")
	}
	if !ne.Match("Apache-2.0") {
		t.Error("!= should accept different values")
	}
}

func TestWildcardAnchoring(t *testing.T) {
	f := mustParse(t, "filter=name=azure*")
	c := f.Filters[0]
	if !c.Match("azure-core") {
		t.Error("prefix should match")
	}
	if c.Match("msazure") {
		t.Error("match must be anchored at the start")
	}
}

func TestSort(t *testing.T) {
	f := mustParse(t, "sort=name=desc")
	if f.Sort == nil || f.Sort.Attr != "name" || !f.Sort.Desc {
		t.Errorf("unexpected sort %+v", f.Sort)
	}
	f = mustParse(t, "sort=license")
	if f.Sort.Desc {
		t.Error("default direction is ascending")
	}
	err := parseErr(t, "sort=name=sideways")
	if !errors.Is(err, xrbridge.ErrInvalidData) {
		t.Errorf("got %v, want invalid_data", err)
	}
}

func TestInline(t *testing.T) {
	f := mustParse(t, "inline=versions,meta")
	if f.InlineAll || !f.InlineWants("versions") || !f.InlineWants("meta") || f.InlineWants("model") {
		t.Errorf("unexpected inline %+v", f)
	}
	f = mustParse(t, "inline=*")
	if !f.InlineAll || !f.InlineWants("anything") {
		t.Error("inline=* should inline everything")
	}
}

func TestLimitOffset(t *testing.T) {
	f := mustParse(t, "limit=10&offset=20")
	if f.Limit != 10 || f.Offset != 20 || !f.LimitSet {
		t.Errorf("unexpected flags %+v", f)
	}
	if err := parseErr(t, "limit=0"); !errors.Is(err, xrbridge.ErrInvalidData) {
		t.Errorf("limit=0: got %v, want invalid_data", err)
	}
	if err := parseErr(t, "offset=-1"); !errors.Is(err, xrbridge.ErrInvalidData) {
		t.Errorf("offset=-1: got %v, want invalid_data", err)
	}
}

func TestUnknownFlag(t *testing.T) {
	err := parseErr(t, "wibble=1")
	if !errors.Is(err, xrbridge.ErrCapability) {
		t.Errorf("got %v, want capability_error", err)
	}
}

func TestRejectedOperators(t *testing.T) {
	for _, q := range []string{
		"filter=epoch>3",
		"filter=epoch<3",
		"filter=epoch>=3",
		"filter=name",
	} {
		if err := parseErr(t, q); !errors.Is(err, xrbridge.ErrCapability) {
			t.Errorf("%q: got %v, want capability_error", q, err)
		}
	}
}

func TestCanonicalFilter(t *testing.T) {
	a := mustParse(t, "filter=name=B&filter=license=MIT")
	b := mustParse(t, "filter=license=mit&filter=name=b")
	if CanonicalFilter(a.Filters) != CanonicalFilter(b.Filters) {
		t.Error("canonical form should be order- and case-insensitive")
	}
}
