package filter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/driver/memory"
	"github.com/xregistry/xrbridge/names"
	"github.com/xregistry/xrbridge/qparse"
)

func testEngine(t *testing.T, opts Options, pkgs ...*driver.Package) *Engine {
	t.Helper()
	ctx := context.Background()
	a := memory.New(pkgs...)
	c, err := names.New(ctx, a, names.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	return New(a, c, opts)
}

func flags(t *testing.T, rawQuery string) *qparse.Flags {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatal(err)
	}
	f, err := qparse.Parse(q)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func pageNames(r *Result) []string {
	out := make([]string, 0, len(r.Page))
	for _, e := range r.Page {
		out = append(out, e.Name)
	}
	return out
}

func TestNameOnlyFilterAndPaging(t *testing.T) {
	// A catalog of azure-ish and other names, checking the literal
	// filter+sort+pagination scenario shape.
	var pkgs []*driver.Package
	for i := range 30 {
		pkgs = append(pkgs, &driver.Package{Name: fmt.Sprintf("azure-%02d", i)})
	}
	pkgs = append(pkgs, &driver.Package{Name: "lodash"}, &driver.Package{Name: "react"})
	e := testEngine(t, Options{}, pkgs...)

	res, err := e.Resources(context.Background(), flags(t, "filter=name=*azure*&sort=name=asc&limit=10&offset=10"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 30 {
		t.Errorf("total: got %d, want 30", res.Total)
	}
	if !res.More {
		t.Error("expected more pages (30 matches, offset 10, limit 10)")
	}
	want := make([]string, 0, 10)
	for i := 10; i < 20; i++ {
		want = append(want, fmt.Sprintf("azure-%02d", i))
	}
	if got := pageNames(res); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(want, got))
	}
	for _, ent := range res.Page {
		if ent.Pkg == nil {
			t.Errorf("%s: page entity not enriched", ent.Name)
		}
	}
}

func TestOffsetPastEnd(t *testing.T) {
	e := testEngine(t, Options{},
		&driver.Package{Name: "a"}, &driver.Package{Name: "b"})
	res, err := e.Resources(context.Background(), flags(t, "offset=5"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Page) != 0 || res.More {
		t.Errorf("got page %v more %v", pageNames(res), res.More)
	}
}

func TestRichFilter(t *testing.T) {
	e := testEngine(t, Options{},
		&driver.Package{Name: "express", License: "MIT"},
		&driver.Package{Name: "lodash", License: "MIT"},
		&driver.Package{Name: "left-pad", License: "WTFPL"},
	)
	res, err := e.Resources(context.Background(), flags(t, "filter=license=MIT"), 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"express", "lodash"}
	if got := pageNames(res); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(want, got))
	}
}

func TestFilterMonotone(t *testing.T) {
	// Adding a clause never enlarges the result set.
	e := testEngine(t, Options{},
		&driver.Package{Name: "express", License: "MIT"},
		&driver.Package{Name: "lodash", License: "MIT"},
		&driver.Package{Name: "react", License: "MIT"},
	)
	ctx := context.Background()
	base, err := e.Resources(ctx, flags(t, "filter=license=MIT"), 10)
	if err != nil {
		t.Fatal(err)
	}
	narrowed, err := e.Resources(ctx, flags(t, "filter=license=MIT&filter=name=l*"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if narrowed.Total > base.Total {
		t.Errorf("narrowed total %d > base total %d", narrowed.Total, base.Total)
	}
	if want := []string{"lodash"}; !cmp.Equal(pageNames(narrowed), want) {
		t.Error(cmp.Diff(want, pageNames(narrowed)))
	}
}

func TestBudgetTruncation(t *testing.T) {
	var pkgs []*driver.Package
	for i := range 50 {
		pkgs = append(pkgs, &driver.Package{Name: fmt.Sprintf("pkg-%02d", i), License: "MIT"})
	}
	e := testEngine(t, Options{MaxFetches: 10}, pkgs...)
	res, err := e.Resources(context.Background(), flags(t, "filter=license=MIT"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 10 {
		t.Errorf("total: got %d, want 10 (budget-bounded)", res.Total)
	}
	if !res.More {
		t.Error("expected More when the budget truncates the walk")
	}
}

// countingAdapter counts upstream metadata fetches.
type countingAdapter struct {
	*memory.Adapter
	gets atomic.Int64
}

func (a *countingAdapter) Get(ctx context.Context, name string) (*driver.Package, error) {
	a.gets.Add(1)
	return a.Adapter.Get(ctx, name)
}

func TestPageClampedToBudget(t *testing.T) {
	// An unfiltered listing with an oversized limit must not turn into one
	// upstream fetch per requested entity.
	var pkgs []*driver.Package
	for i := range 200 {
		pkgs = append(pkgs, &driver.Package{Name: fmt.Sprintf("pkg-%03d", i)})
	}
	ctx := context.Background()
	a := &countingAdapter{Adapter: memory.New(pkgs...)}
	c, err := names.New(ctx, a, names.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	e := New(a, c, Options{MaxFetches: 10})

	res, err := e.Resources(ctx, flags(t, "limit=200"), 200)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Page); got != 10 {
		t.Errorf("page: got %d entities, want 10 (budget-clamped)", got)
	}
	if res.Total != 200 {
		t.Errorf("total: got %d, want 200", res.Total)
	}
	if !res.More {
		t.Error("expected More after a budget-clamped page")
	}
	if got := a.gets.Load(); got > 10 {
		t.Errorf("issued %d upstream fetches, budget is 10", got)
	}
	if got, want := e.MaxPage(), 10; got != want {
		t.Errorf("MaxPage: got %d, want %d", got, want)
	}
}

func TestSortDescAndTieBreak(t *testing.T) {
	e := testEngine(t, Options{},
		&driver.Package{Name: "b", License: "MIT"},
		&driver.Package{Name: "a", License: "MIT"},
		&driver.Package{Name: "c", License: "Apache-2.0"},
	)
	res, err := e.Resources(context.Background(), flags(t, "sort=license=desc"), 10)
	if err != nil {
		t.Fatal(err)
	}
	// MIT > Apache-2.0; equal keys preserve name order.
	want := []string{"a", "b", "c"}
	if got := pageNames(res); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(want, got))
	}
}

func TestUnknownAttribute(t *testing.T) {
	e := testEngine(t, Options{}, &driver.Package{Name: "a"})
	_, err := e.Resources(context.Background(), flags(t, "filter=color=red"), 10)
	if !errors.Is(err, xrbridge.ErrCapability) {
		t.Errorf("got %v, want capability_error", err)
	}
	_, err = e.Resources(context.Background(), flags(t, "sort=color"), 10)
	if !errors.Is(err, xrbridge.ErrCapability) {
		t.Errorf("got %v, want capability_error", err)
	}
}

func TestPaginationLossless(t *testing.T) {
	var pkgs []*driver.Package
	for i := range 25 {
		pkgs = append(pkgs, &driver.Package{Name: fmt.Sprintf("p-%02d", i)})
	}
	e := testEngine(t, Options{}, pkgs...)
	ctx := context.Background()
	var all []string
	for off := 0; ; off += 10 {
		res, err := e.Resources(ctx, flags(t, fmt.Sprintf("limit=10&offset=%d", off)), 10)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, pageNames(res)...)
		if !res.More {
			break
		}
	}
	if len(all) != 25 {
		t.Fatalf("concatenated pages hold %d names, want 25", len(all))
	}
	seen := map[string]bool{}
	for _, n := range all {
		if seen[n] {
			t.Errorf("duplicate %q across pages", n)
		}
		seen[n] = true
	}
}
