// Package problem writes RFC 9457 "application/problem+json" responses.
package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xregistry/xrbridge"
)

// TypePrefix is the URI prefix for problem "type" members; the error kind
// string is appended.
const TypePrefix = `https://xregistry.io/errors/`

// Details is an RFC 9457 problem details document.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Extensions are additional members (e.g. expectedEpoch) merged into
	// the top-level object.
	Extensions map[string]any `json:"-"`
}

// MarshalJSON implements [json.Marshaler], flattening Extensions into the
// top-level object.
func (d *Details) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":   d.Type,
		"title":  d.Title,
		"status": d.Status,
	}
	if d.Detail != "" {
		m["detail"] = d.Detail
	}
	if d.Instance != "" {
		m["instance"] = d.Instance
	}
	for k, v := range d.Extensions {
		m[k] = v
	}
	return json.Marshal(m)
}

// Error works like http.Error but writes a problem details body. Like
// http.Error you will still need a naked return in the http handler.
func Error(w http.ResponseWriter, d *Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(d.Status)
	b, _ := json.Marshal(d)
	w.Write(b)
}

// FromError classifies err via the xrbridge error domain and writes the
// corresponding problem response. Unclassified errors map to internal_error.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	kind := xrbridge.ErrInternal
	var xe *xrbridge.Error
	if errors.As(err, &xe) {
		kind = xe.Kind
	} else {
		for _, k := range []xrbridge.ErrorKind{
			xrbridge.ErrInvalidData,
			xrbridge.ErrCapability,
			xrbridge.ErrNotFound,
			xrbridge.ErrAPINotFound,
			xrbridge.ErrUnauthorized,
			xrbridge.ErrForbidden,
			xrbridge.ErrUnavailable,
			xrbridge.ErrGatewayTimeout,
		} {
			if errors.Is(err, k) {
				kind = k
				break
			}
		}
	}
	Error(w, &Details{
		Type:     TypePrefix + string(kind),
		Title:    string(kind),
		Status:   kind.Status(),
		Detail:   err.Error(),
		Instance: r.URL.RequestURI(),
	})
}
