package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/quay/zlog"

	"github.com/xregistry/xrbridge"
	ihttputil "github.com/xregistry/xrbridge/internal/httputil"
	"github.com/xregistry/xrbridge/pkg/problem"
)

// maxRewriteBody caps the response size eligible for the textual base-URL
// rewrite fallback. Registry documents are far smaller; anything bigger is
// passed through untouched.
const maxRewriteBody = 8 << 20

func (d *Downstream) buildProxy(b *Bridge) {
	header := b.opts.BaseURLHeader
	if header == "" {
		header = ihttputil.DefaultBaseURLHeader
	}
	d.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(d.target)
			pr.SetXForwarded()
			// The effective base was stamped on the inbound request by the
			// proxy handler; keep it on the outbound one.
			if v := pr.In.Header.Get(header); v != "" {
				pr.Out.Header.Set(header, v)
			}
		},
		ModifyResponse: func(res *http.Response) error {
			return d.rewriteSelfLinks(res, header)
		},
		ErrorHandler: d.proxyError,
	}
}

// rewriteSelfLinks is the fallback for downstreams that ignore the
// base-URL header: when a JSON response still carries the downstream's own
// base URL, rewrite it to the bridge's effective base.
func (d *Downstream) rewriteSelfLinks(res *http.Response, header string) error {
	base := res.Request.Header.Get(header)
	if base == "" {
		return nil
	}
	ct := res.Header.Get("Content-Type")
	if !strings.Contains(ct, "json") {
		return nil
	}
	if res.ContentLength > maxRewriteBody {
		return nil
	}
	from := strings.TrimRight(d.target.String(), "/")
	if from == "" || from == base {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxRewriteBody+1))
	res.Body.Close()
	if err != nil {
		return err
	}
	if len(body) <= maxRewriteBody && bytes.Contains(body, []byte(from)) {
		body = bytes.ReplaceAll(body, []byte(from), []byte(base))
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func (d *Downstream) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	kind := xrbridge.ErrUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = xrbridge.ErrGatewayTimeout
	}
	zlog.Warn(r.Context()).
		Str("downstream", d.cfg.URL).
		Err(err).
		Msg("proxy error")
	d.observe(false, err)
	problem.FromError(w, r, &xrbridge.Error{
		Kind:    kind,
		Op:      "bridge.proxy",
		Message: "downstream request failed",
		Inner:   err,
	})
}

// Proxy forwards a group-scoped request to the owning downstream, bounded
// by the proxy timeout.
func (b *Bridge) Proxy(w http.ResponseWriter, r *http.Request, groupType, groupID string) {
	d := b.route(groupType, groupID)
	if d == nil {
		problem.FromError(w, r, &xrbridge.Error{
			Kind:    xrbridge.ErrAPINotFound,
			Op:      "bridge.proxy",
			Message: "unknown group type " + strconv.Quote(groupType),
		})
		return
	}
	if !d.Ready() {
		problem.FromError(w, r, &xrbridge.Error{
			Kind:    xrbridge.ErrUnavailable,
			Op:      "bridge.proxy",
			Message: "downstream for " + strconv.Quote(groupType) + " is not available",
		})
		return
	}
	header := b.opts.BaseURLHeader
	if header == "" {
		header = ihttputil.DefaultBaseURLHeader
	}
	r.Header.Set(header, ihttputil.BaseURL(r, b.opts.BaseURL, header))

	ctx, cancel := context.WithTimeout(r.Context(), b.opts.ProxyTimeout)
	defer cancel()
	obs := proxyObserver(d.cfg.URL)
	defer obs.finish()
	d.proxy.ServeHTTP(obs.wrap(w), r.WithContext(ctx))
}
