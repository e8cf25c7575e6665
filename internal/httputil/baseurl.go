package httputil

import (
	"net/http"
	"strings"
)

// DefaultBaseURLHeader is the request header carrying an explicit effective
// base URL, typically injected by the bridge when proxying.
const DefaultBaseURLHeader = `x-base-url`

// BaseURL resolves the effective base URL for a request.
//
// Resolution order: the base-URL header, x-forwarded-proto/-host, the
// configured fallback, then the request's own scheme and host.
func BaseURL(r *http.Request, configured, header string) string {
	if header == "" {
		header = DefaultBaseURLHeader
	}
	if v := r.Header.Get(header); v != "" {
		return strings.TrimRight(v, "/")
	}
	if host := r.Header.Get("x-forwarded-host"); host != "" {
		proto := r.Header.Get("x-forwarded-proto")
		if proto == "" {
			proto = "http"
		}
		return proto + "://" + host
	}
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
