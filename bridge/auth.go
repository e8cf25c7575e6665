package bridge

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/xregistry/xrbridge"
	"github.com/xregistry/xrbridge/pkg/problem"
)

// PrincipalHeader carries a base64-encoded JSON principal injected by a
// fronting identity proxy.
const PrincipalHeader = `x-ms-client-principal`

// AuthOptions configures request authentication. With neither an APIKey
// nor RequiredGroups set, all requests pass.
type AuthOptions struct {
	// APIKey, when set, accepts requests whose Authorization header
	// presents the key (bare or as a Bearer token).
	APIKey string
	// RequiredGroups, when set, accepts requests whose injected principal
	// carries at least one of these claim values.
	RequiredGroups []string
	// AllowLocalhost bypasses authentication for loopback peers. Off by
	// default; only safe when the listener is not directly reachable.
	AllowLocalhost bool
}

func (o *AuthOptions) enabled() bool {
	return o.APIKey != "" || len(o.RequiredGroups) > 0
}

// principal is the decoded identity document.
type principal struct {
	UserID string  `json:"userId"`
	Claims []claim `json:"claims"`
}

// claim is one principal claim; on the wire it is either a bare string or
// a {"typ": ..., "val": ...} object.
type claim struct {
	Typ string `json:"typ"`
	Val string `json:"val"`
}

func (c *claim) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		c.Typ = ""
		return json.Unmarshal(b, &c.Val)
	}
	type alias claim
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = claim(a)
	return nil
}

// decodePrincipal parses the principal header, tolerating both standard
// and raw (unpadded) base64.
func decodePrincipal(v string) (*principal, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(v)
	}
	if err != nil {
		return nil, err
	}
	var p principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// keyMatches checks the Authorization header against the configured key.
func keyMatches(header, key string) bool {
	if header == "" || key == "" {
		return false
	}
	presented := header
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		presented = after
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}

// groupMatches reports whether any principal claim value is in the
// required set.
func groupMatches(p *principal, required []string) bool {
	for _, c := range p.Claims {
		for _, want := range required {
			if c.Val == want {
				return true
			}
		}
	}
	return false
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Auth returns middleware enforcing the configured authentication policy.
// Health, status, and metrics endpoints are always open.
func Auth(opts AuthOptions) func(http.Handler) http.Handler {
	open := map[string]bool{
		"/health":  true,
		"/status":  true,
		"/metrics": true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case !opts.enabled(), open[r.URL.Path]:
				next.ServeHTTP(w, r)
				return
			case opts.AllowLocalhost && isLoopback(r.RemoteAddr):
				next.ServeHTTP(w, r)
				return
			}
			if keyMatches(r.Header.Get("Authorization"), opts.APIKey) {
				next.ServeHTTP(w, r)
				return
			}
			if v := r.Header.Get(PrincipalHeader); v != "" && len(opts.RequiredGroups) > 0 {
				p, err := decodePrincipal(v)
				switch {
				case err != nil:
					problem.FromError(w, r, &xrbridge.Error{
						Kind:    xrbridge.ErrUnauthorized,
						Op:      "bridge.auth",
						Message: "malformed principal header",
						Inner:   err,
					})
				case groupMatches(p, opts.RequiredGroups):
					next.ServeHTTP(w, r)
				default:
					problem.FromError(w, r, &xrbridge.Error{
						Kind:    xrbridge.ErrForbidden,
						Op:      "bridge.auth",
						Message: "principal " + p.UserID + " is not in a required group",
					})
				}
				return
			}
			problem.FromError(w, r, &xrbridge.Error{
				Kind:    xrbridge.ErrUnauthorized,
				Op:      "bridge.auth",
				Message: "missing or invalid credentials",
			})
		})
	}
}
