package xrbridge

import (
	"testing"
	"time"
)

func TestDurationText(t *testing.T) {
	tt := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		// Bare integers are milliseconds, matching the environment
		// configuration surface.
		{"120000", 120 * time.Second},
		{"0", 0},
	}
	for _, tc := range tt {
		var d Duration
		if err := d.UnmarshalText([]byte(tc.in)); err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if got := d.Std(); got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.in, got, tc.want)
		}
	}

	var d Duration
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected an error for a non-duration")
	}

	d = Duration(90 * time.Second)
	b, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "1m30s"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
