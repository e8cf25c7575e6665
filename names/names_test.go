package names

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xregistry/xrbridge/driver"
	"github.com/xregistry/xrbridge/driver/memory"
)

func mkSource(names ...string) *memory.Adapter {
	pkgs := make([]*driver.Package, 0, len(names))
	for _, n := range names {
		pkgs = append(pkgs, &driver.Package{Name: n})
	}
	return memory.New(pkgs...)
}

func TestRefreshAndLookup(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, mkSource("express", "lodash", "react"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("got %d names, want 3", got)
	}
	if !c.Exists("express") {
		t.Error("expected express to exist")
	}
	if c.Exists("EXPRESS") {
		t.Error("memory source is case-sensitive by default")
	}
	want := []string{"express", "lodash", "react"}
	if got := c.All(); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(want, got))
	}
}

func TestUnchangedSkipsRebuild(t *testing.T) {
	ctx := context.Background()
	src := mkSource("a", "b")
	c, err := New(ctx, src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	fp := c.Fingerprint()
	if fp == "" {
		t.Fatal("expected a fingerprint after refresh")
	}
	// Second refresh sees the same fingerprint and is a no-op.
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.Fingerprint(); got != fp {
		t.Errorf("fingerprint changed without upstream change: %q != %q", got, fp)
	}
}

func TestCaseFold(t *testing.T) {
	ctx := context.Background()
	src := mkSource("Newtonsoft.Json")
	src.CaseFold = true
	c, err := New(ctx, src, Options{Normalize: strings.ToLower})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.Exists("newtonsoft.json") || !c.Exists("NEWTONSOFT.JSON") {
		t.Error("expected case-insensitive lookups")
	}
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, mkSource("a", "b", "c", "d", "e"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	page, total := c.List(1, 2, nil)
	if total != 5 {
		t.Errorf("total: got %d, want 5", total)
	}
	if want := []string{"b", "c"}; !cmp.Equal(page, want) {
		t.Error(cmp.Diff(want, page))
	}
	// Offset past the end yields an empty page.
	page, total = c.List(10, 2, nil)
	if len(page) != 0 || total != 5 {
		t.Errorf("got page %v total %d", page, total)
	}
	// Predicate narrows the total.
	page, total = c.List(0, 10, func(n string) bool { return n > "c" })
	if total != 2 {
		t.Errorf("filtered total: got %d, want 2", total)
	}
	if want := []string{"d", "e"}; !cmp.Equal(page, want) {
		t.Error(cmp.Diff(want, page))
	}
}

// stalledSource blocks inside ListNames until released, standing in for a
// slow upstream index walk.
type stalledSource struct {
	entered  chan struct{}
	released chan struct{}
}

func (s *stalledSource) ListNames(ctx context.Context, _ driver.Fingerprint) ([]string, driver.Fingerprint, error) {
	close(s.entered)
	select {
	case <-s.released:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	return []string{"express"}, "gen-1", nil
}

func TestReadersUnblockedDuringRefresh(t *testing.T) {
	ctx := context.Background()
	src := &stalledSource{
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	c, err := New(ctx, src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	refreshed := make(chan error, 1)
	go func() { refreshed <- c.Refresh(ctx) }()
	<-src.entered

	// The refresh is parked inside upstream I/O; reads must still serve
	// from the last-swapped index without waiting for it.
	read := make(chan driver.Fingerprint, 1)
	go func() { read <- c.Fingerprint() }()
	select {
	case fp := <-read:
		if fp != "" {
			t.Errorf("got fingerprint %q before first swap, want empty", fp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fingerprint blocked behind an in-flight refresh")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("got %d names before first swap", got)
	}

	close(src.released)
	if err := <-refreshed; err != nil {
		t.Fatal(err)
	}
	if got := c.Fingerprint(); got != "gen-1" {
		t.Errorf("got fingerprint %q after refresh", got)
	}
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := mkSource("express", "lodash")

	c, err := New(ctx, src, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	fp := c.Fingerprint()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen against a dead upstream: the snapshot serves.
	c2, err := New(ctx, src, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if got := c2.Len(); got != 2 {
		t.Errorf("got %d names from snapshot, want 2", got)
	}
	if got := c2.Fingerprint(); got != fp {
		t.Errorf("cursor not restored: got %q, want %q", got, fp)
	}
	if !c2.Exists("lodash") {
		t.Error("expected lodash from snapshot")
	}
}
