package bridge

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"

	"github.com/xregistry/xrbridge"
	ihttputil "github.com/xregistry/xrbridge/internal/httputil"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	Auth AuthOptions
	// AllowedOrigins is the CORS allow-list; empty means any origin.
	AllowedOrigins []string
}

var _ http.Handler = (*HTTP)(nil)

// HTTP is the bridge's HTTP surface: merged registry documents at the
// root, proxying below the group types.
type HTTP struct {
	http.Handler
	b *Bridge
}

// NewHandler builds the HTTP surface for a Bridge.
func NewHandler(b *Bridge, opts RouterOptions) *HTTP {
	h := &HTTP{b: b}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match", "If-Modified-Since"},
		ExposedHeaders: []string{"ETag", "Link", "Last-Modified", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(Auth(opts.Auth))
	r.Use(chimiddleware.GetHead)

	r.Get("/health", h.Health)
	r.Get("/status", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/model", h.Model)
	r.Get("/capabilities", h.Capabilities)
	r.Get("/export", h.Export)
	r.Get("/{groupType}", h.proxy)
	r.Get("/{groupType}/*", h.proxy)
	h.Handler = r
	return h
}

// requestID assigns each request an id, echoed on the response and bound
// into the logging context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("x-request-id", id)
		ctx := zlog.ContextWithValues(r.Context(), "request_id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger emits one line per completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zlog.Info(r.Context()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func (h *HTTP) base(r *http.Request) string {
	return ihttputil.BaseURL(r, h.b.opts.BaseURL, h.b.opts.BaseURLHeader)
}

// Root serves the merged root document.
func (h *HTTP) Root(w http.ResponseWriter, r *http.Request) {
	reg := h.b.root(h.base(r))
	h.writeEntity(w, r, reg.XID, reg.Epoch, reg)
}

// Model serves the merged model document.
func (h *HTTP) Model(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.b.model())
}

// Capabilities serves the merged capabilities document.
func (h *HTTP) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.b.capabilities())
}

// Export redirects to the doc-mode root.
func (h *HTTP) Export(w http.ResponseWriter, r *http.Request) {
	u := url.URL{Path: "/", RawQuery: "doc&inline=*,capabilities,modelsource"}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// proxy forwards group-scoped requests to the owning downstream.
func (h *HTTP) proxy(w http.ResponseWriter, r *http.Request) {
	gt := chi.URLParam(r, "groupType")
	rest := chi.URLParam(r, "*")
	gid, _, _ := strings.Cut(rest, "/")
	h.b.Proxy(w, r, gt, gid)
}

// writeEntity emits an entity with conditional-request handling.
func (h *HTTP) writeEntity(w http.ResponseWriter, r *http.Request, xid string, epoch uint64, v any) {
	etag := entityTag(xid, epoch)
	modified := h.b.state.ModifiedAt(xid).UTC()

	w.Header().Set("Content-Type", xrbridge.ContentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := time.Parse(http.TimeFormat, ims); err == nil && !modified.Truncate(time.Second).After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}

func entityTag(xid string, epoch uint64) string {
	return `"` + xid + `@` + strconv.FormatUint(epoch, 10) + `"`
}

// writeJSON emits a non-entity JSON payload.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", xrbridge.ContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}
