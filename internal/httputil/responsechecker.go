package httputil

import (
	"fmt"
	"io"
	"net/http"

	"github.com/xregistry/xrbridge"
)

// CheckResponse inspects an upstream response against the acceptable status
// codes. A rejected response becomes an [xrbridge.Error] whose kind mirrors
// the upstream status, with the first bytes of the body kept for logs.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	for _, code := range acceptableCodes {
		if resp.StatusCode == code {
			return nil
		}
	}
	var inner error
	snippet, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err == nil && len(snippet) > 0 {
		inner = fmt.Errorf("unexpected status code: %s (body starts: %q)", resp.Status, snippet)
	} else {
		inner = fmt.Errorf("unexpected status code: %s", resp.Status)
	}
	return &xrbridge.Error{
		Kind:  kindFor(resp.StatusCode),
		Op:    "httputil.CheckResponse",
		Inner: inner,
	}
}

// kindFor maps an upstream status onto the error kind reported to callers.
func kindFor(code int) xrbridge.ErrorKind {
	switch code {
	case http.StatusUnauthorized:
		return xrbridge.ErrUnauthorized
	case http.StatusForbidden:
		return xrbridge.ErrForbidden
	case http.StatusNotFound:
		return xrbridge.ErrNotFound
	case http.StatusGatewayTimeout:
		return xrbridge.ErrGatewayTimeout
	}
	return xrbridge.ErrUnavailable
}
