package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/xregistry/xrbridge"
)

func TestCheckResponse(t *testing.T) {
	mk := func(code int, body string) *http.Response {
		return &http.Response{
			StatusCode: code,
			Status:     http.StatusText(code),
			Body:       io.NopCloser(strings.NewReader(body)),
		}
	}

	if err := CheckResponse(mk(http.StatusOK, ""), http.StatusOK); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckResponse(mk(http.StatusNoContent, ""), http.StatusOK, http.StatusNoContent); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tt := []struct {
		code int
		kind xrbridge.ErrorKind
	}{
		{http.StatusNotFound, xrbridge.ErrNotFound},
		{http.StatusUnauthorized, xrbridge.ErrUnauthorized},
		{http.StatusForbidden, xrbridge.ErrForbidden},
		{http.StatusGatewayTimeout, xrbridge.ErrGatewayTimeout},
		{http.StatusBadGateway, xrbridge.ErrUnavailable},
		{http.StatusInternalServerError, xrbridge.ErrUnavailable},
	}
	for _, tc := range tt {
		err := CheckResponse(mk(tc.code, "nope"), http.StatusOK)
		if err == nil {
			t.Errorf("%d: expected an error", tc.code)
			continue
		}
		if !errors.Is(err, tc.kind) {
			t.Errorf("%d: got %v, want kind %v", tc.code, err, tc.kind)
		}
	}

	// The body snippet survives into the message for logs.
	err := CheckResponse(mk(http.StatusBadGateway, "upstream exploded"), http.StatusOK)
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("body snippet missing from %v", err)
	}
}
