package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	in := &Entry{
		URL:       "https://registry.npmjs.org/express",
		ETag:      `W/"abc123"`,
		FetchedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Body:      json.RawMessage(`{"name":"express"}`),
	}
	if err := d.Put(in); err != nil {
		t.Fatal(err)
	}
	got, err := d.Get(in.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, in) {
		t.Error(cmp.Diff(in, got))
	}
}

func TestMiss(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Get("https://example.com/absent")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestLastWriterWins(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	const url = "https://example.com/pkg"
	for _, etag := range []string{`"one"`, `"two"`} {
		if err := d.Put(&Entry{URL: url, ETag: etag}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := d.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	if got.ETag != `"two"` {
		t.Errorf("got %q, want %q", got.ETag, `"two"`)
	}
}
