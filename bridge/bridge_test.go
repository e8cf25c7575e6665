package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xregistry/xrbridge/internal/estate"
)

// fakeBackend is a minimal downstream registry for one group type.
type fakeBackend struct {
	groupType string
	groupID   string
	// honourBase controls whether self links use the x-base-url header or
	// the backend's own address.
	honourBase bool
	srv        *httptest.Server
	requests   atomic.Int64
}

func newFakeBackend(t *testing.T, groupType, groupID string, honourBase bool) *fakeBackend {
	t.Helper()
	f := &fakeBackend{groupType: groupType, groupID: groupID, honourBase: honourBase}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /capabilities", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"apis":["/","/model","/capabilities"],"flags":["doc","filter","inline","limit","offset"],"mutable":[],"pagination":true}`)
	})
	mux.HandleFunc("GET /model", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"groups":{%q:{"plural":%q,"singular":"registry"}}}`, f.groupType, f.groupType)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"specversion":"1.0-rc2","registryid":%q,"%scount":1,"%surl":%q}`,
			f.groupID, f.groupType, f.groupType, f.base(r)+"/"+f.groupType)
	})
	mux.HandleFunc("GET /"+f.groupType+"/", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"test-tag"`)
		fmt.Fprintf(w, `{"self":%q,"echo":%q}`, f.base(r)+r.URL.Path, r.URL.RequestURI())
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) base(r *http.Request) string {
	if f.honourBase {
		if v := r.Header.Get("x-base-url"); v != "" {
			return strings.TrimRight(v, "/")
		}
	}
	return f.srv.URL
}

func (f *fakeBackend) config() DownstreamConfig {
	return DownstreamConfig{
		URL:    f.srv.URL,
		Groups: []GroupRef{{Type: f.groupType, ID: f.groupID}},
	}
}

// newTestBridge assembles and initializes a bridge over the given backends.
func newTestBridge(t *testing.T, state *estate.Manager, backends ...*fakeBackend) *Bridge {
	t.Helper()
	cfgs := make([]DownstreamConfig, 0, len(backends))
	for _, f := range backends {
		cfgs = append(cfgs, f.config())
	}
	b, err := New(cfgs, state, Options{
		RegistryID:   "bridge-test",
		ProxyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(context.Background(), InitOptions{
		Budget:       5 * time.Second,
		RetryInitial: 10 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestParseDownstreams(t *testing.T) {
	t.Run("GroupRefForms", func(t *testing.T) {
		cfgs, err := ParseDownstreams([]byte(`[
			{"url":"http://a.example","groups":["noderegistries"]},
			{"url":"http://b.example","groups":[{"type":"pythonregistries","id":"pypi.org"}]}
		]`))
		if err != nil {
			t.Fatal(err)
		}
		want := []DownstreamConfig{
			{URL: "http://a.example", Groups: []GroupRef{{Type: "noderegistries"}}},
			{URL: "http://b.example", Groups: []GroupRef{{Type: "pythonregistries", ID: "pypi.org"}}},
		}
		if !cmp.Equal(cfgs, want) {
			t.Error(cmp.Diff(want, cfgs))
		}
	})
	bad := []struct {
		name string
		in   string
	}{
		{"Empty", `[]`},
		{"BadURL", `[{"url":"::","groups":["a"]}]`},
		{"NoGroups", `[{"url":"http://a.example","groups":[]}]`},
		{"DuplicateClaim", `[
			{"url":"http://a.example","groups":["noderegistries"]},
			{"url":"http://b.example","groups":["noderegistries"]}
		]`},
		{"DuplicateTypedClaim", `[
			{"url":"http://a.example","groups":[{"type":"mcpproviders","id":"x"}]},
			{"url":"http://b.example","groups":[{"type":"mcpproviders","id":"x"}]}
		]`},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDownstreams([]byte(tc.in)); err == nil {
				t.Error("expected an error")
			} else {
				t.Log(err)
			}
		})
	}
	t.Run("ProbeTimeout", func(t *testing.T) {
		cfgs, err := ParseDownstreams([]byte(`[
			{"url":"http://a.example","groups":["noderegistries"],"timeout":"5s"}
		]`))
		if err != nil {
			t.Fatal(err)
		}
		if got := cfgs[0].Timeout.Std(); got != 5*time.Second {
			t.Errorf("timeout: got %v, want 5s", got)
		}
	})
	t.Run("DistinctIDsSameType", func(t *testing.T) {
		if _, err := ParseDownstreams([]byte(`[
			{"url":"http://a.example","groups":[{"type":"mcpproviders","id":"x"}]},
			{"url":"http://b.example","groups":[{"type":"mcpproviders","id":"y"}]}
		]`)); err != nil {
			t.Error(err)
		}
	})
}

func TestMergedRoot(t *testing.T) {
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	py := newFakeBackend(t, "pythonregistries", "pypi.org", true)
	b := newTestBridge(t, nil, node, py)
	h := NewHandler(b, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "http://bridge.example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]any{
		"registryid":            "bridge-test",
		"xid":                   "/",
		"noderegistriesurl":     "http://bridge.example/noderegistries",
		"noderegistriescount":   float64(1),
		"pythonregistriesurl":   "http://bridge.example/pythonregistries",
		"pythonregistriescount": float64(1),
	} {
		if got := doc[k]; got != want {
			t.Errorf("%s: got %v, want %v", k, got, want)
		}
	}
	if w.Header().Get("ETag") == "" {
		t.Error("expected an ETag on the root document")
	}

	// Merged model carries both group types.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/model", nil))
	var model struct {
		Groups map[string]json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &model); err != nil {
		t.Fatal(err)
	}
	for _, gt := range []string{"noderegistries", "pythonregistries"} {
		if _, ok := model.Groups[gt]; !ok {
			t.Errorf("merged model is missing %q", gt)
		}
	}

	// Merged capabilities union the flag lists and keep pagination.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/capabilities", nil))
	var caps struct {
		Flags      []string `json:"flags"`
		Pagination bool     `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &caps); err != nil {
		t.Fatal(err)
	}
	if !caps.Pagination {
		t.Error("expected pagination capability")
	}
	if len(caps.Flags) == 0 {
		t.Error("expected merged flags")
	}
}

func TestProxyRouting(t *testing.T) {
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	b := newTestBridge(t, nil, node)
	h := NewHandler(b, RouterOptions{})

	t.Run("Passthrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://bridge.example/noderegistries/npmjs.org/packages/left-pad?inline=versions", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("got status %d: %s", w.Code, w.Body)
		}
		if got := w.Header().Get("ETag"); got != `"test-tag"` {
			t.Errorf("ETag not preserved, got %q", got)
		}
		var doc struct {
			Self string `json:"self"`
			Echo string `json:"echo"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
			t.Fatal(err)
		}
		// The backend honoured x-base-url, so self links carry the
		// bridge's base.
		if want := "http://bridge.example/noderegistries/npmjs.org/packages/left-pad"; doc.Self != want {
			t.Errorf("got self %q, want %q", doc.Self, want)
		}
		if want := "/noderegistries/npmjs.org/packages/left-pad?inline=versions"; doc.Echo != want {
			t.Errorf("query not forwarded, got %q", doc.Echo)
		}
	})

	t.Run("UnknownGroupType", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/gems", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("got content type %q", ct)
		}
	})
}

func TestProxyRewriteFallback(t *testing.T) {
	// This backend ignores x-base-url and emits its own address in self
	// links; the bridge rewrites them.
	node := newFakeBackend(t, "noderegistries", "npmjs.org", false)
	b := newTestBridge(t, nil, node)
	h := NewHandler(b, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "http://bridge.example/noderegistries/npmjs.org/packages/left-pad", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body)
	}
	var doc struct {
		Self string `json:"self"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if want := "http://bridge.example/noderegistries/npmjs.org/packages/left-pad"; doc.Self != want {
		t.Errorf("got self %q, want %q", doc.Self, want)
	}
	if got, want := w.Header().Get("Content-Length"), fmt.Sprint(w.Body.Len()); got != want {
		t.Errorf("content length not fixed up: header %s, body %s", got, want)
	}
}

func TestHealthAndTransitions(t *testing.T) {
	state := estate.New()
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	py := newFakeBackend(t, "pythonregistries", "pypi.org", true)
	b := newTestBridge(t, state, node, py)
	h := NewHandler(b, RouterOptions{})
	m := NewMonitor(b)
	m.Timeout = 2 * time.Second

	get := func(path string) (*httptest.ResponseRecorder, *HealthReport) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example"+path, nil))
		var rep HealthReport
		if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
			t.Fatal(err)
		}
		return w, &rep
	}

	w, rep := get("/health")
	if w.Code != http.StatusOK || rep.Status != "healthy" {
		t.Fatalf("got %d %q", w.Code, rep.Status)
	}
	wantGroups := []string{"noderegistries", "pythonregistries"}
	if !cmp.Equal(rep.ConsolidatedGroups, wantGroups) {
		t.Error(cmp.Diff(wantGroups, rep.ConsolidatedGroups))
	}

	// /status is an alias.
	if w, rep := get("/status"); w.Code != http.StatusOK || rep.Status != "healthy" {
		t.Fatalf("status alias: got %d %q", w.Code, rep.Status)
	}

	before := state.Epoch("/")
	py.srv.Close()
	m.Check(context.Background())

	// One live downstream keeps the aggregate status "healthy"; the dead
	// one shows up in its own entry.
	w, rep = get("/health")
	if w.Code != http.StatusOK || rep.Status != "healthy" {
		t.Fatalf("after failure: got %d %q", w.Code, rep.Status)
	}
	for _, dh := range rep.Downstreams {
		if want := dh.URL != py.srv.URL; dh.Healthy != want {
			t.Errorf("%s: healthy = %v, want %v", dh.URL, dh.Healthy, want)
		}
	}
	if !cmp.Equal(rep.ConsolidatedGroups, []string{"noderegistries"}) {
		t.Errorf("got consolidated groups %v", rep.ConsolidatedGroups)
	}
	if got := state.Epoch("/"); got != before+1 {
		t.Errorf("root epoch: got %d, want %d", got, before+1)
	}

	// Proxying to the dead downstream reports service_unavailable.
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "http://bridge.example/pythonregistries", nil))
	if w2.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d", w2.Code)
	}

	node.srv.Close()
	m.Check(context.Background())
	if w, rep := get("/health"); w.Code != http.StatusServiceUnavailable || rep.Status != "unhealthy" {
		t.Fatalf("after total failure: got %d %q", w.Code, rep.Status)
	}
}

func TestInitOptionsDefaults(t *testing.T) {
	var o InitOptions
	o.defaults()
	want := InitOptions{
		Budget:         2 * time.Minute,
		RetryInitial:   time.Second,
		RetryMax:       10 * time.Second,
		Multiplier:     2.0,
		AttemptTimeout: 10 * time.Second,
	}
	if o != want {
		t.Error(cmp.Diff(want, o))
	}
}

func TestInitializeRetries(t *testing.T) {
	var fails atomic.Int64
	fails.Store(2)
	inner := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fails.Load() > 0 {
			fails.Add(-1)
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		inner.srv.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(flaky.Close)

	b, err := New([]DownstreamConfig{{
		URL:    flaky.URL,
		Groups: []GroupRef{{Type: "noderegistries", ID: "npmjs.org"}},
	}}, nil, Options{RegistryID: "bridge-test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(context.Background(), InitOptions{
		Budget:       10 * time.Second,
		RetryInitial: 10 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	if !b.Downstreams()[0].Ready() {
		t.Error("expected downstream to be ready after retries")
	}
}

func TestInitializeAllDown(t *testing.T) {
	b, err := New([]DownstreamConfig{{
		URL:    "http://127.0.0.1:1",
		Groups: []GroupRef{{Type: "noderegistries"}},
	}}, nil, Options{RegistryID: "bridge-test"})
	if err != nil {
		t.Fatal(err)
	}
	err = b.Initialize(context.Background(), InitOptions{
		Budget:       200 * time.Millisecond,
		RetryInitial: 20 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected an error with no reachable downstream")
	}
	t.Log(err)
}

func TestAuth(t *testing.T) {
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	b := newTestBridge(t, nil, node)

	principal := func(groups ...string) string {
		p := map[string]any{"userId": "u1", "claims": groups}
		raw, _ := json.Marshal(p)
		return base64.StdEncoding.EncodeToString(raw)
	}

	h := NewHandler(b, RouterOptions{Auth: AuthOptions{
		APIKey:         "sekrit",
		RequiredGroups: []string{"registry-readers"},
	}})

	tt := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"NoCredentials", nil, http.StatusUnauthorized},
		{"WrongKey", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"BareKey", http.Header{"Authorization": {"sekrit"}}, http.StatusOK},
		{"BearerKey", http.Header{"Authorization": {"Bearer sekrit"}}, http.StatusOK},
		{"PrincipalInGroup", http.Header{"X-Ms-Client-Principal": {principal("registry-readers")}}, http.StatusOK},
		{"PrincipalWrongGroup", http.Header{"X-Ms-Client-Principal": {principal("other-team")}}, http.StatusForbidden},
		{"PrincipalGarbage", http.Header{"X-Ms-Client-Principal": {"%%%"}}, http.StatusUnauthorized},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://bridge.example/", nil)
			for k, vs := range tc.header {
				req.Header[k] = vs
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("got %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}

	t.Run("HealthIsOpen", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("got %d", w.Code)
		}
	})

	t.Run("LocalhostBypass", func(t *testing.T) {
		hb := NewHandler(b, RouterOptions{Auth: AuthOptions{
			APIKey:         "sekrit",
			AllowLocalhost: true,
		}})
		req := httptest.NewRequest(http.MethodGet, "http://bridge.example/", nil)
		req.RemoteAddr = "127.0.0.1:54321"
		w := httptest.NewRecorder()
		hb.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("got %d: %s", w.Code, w.Body)
		}
	})
}

func TestRootConditional(t *testing.T) {
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	b := newTestBridge(t, nil, node)
	h := NewHandler(b, RouterOptions{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/", nil))
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag")
	}
	req := httptest.NewRequest(http.MethodGet, "http://bridge.example/", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("got %d, want 304", w.Code)
	}
}

func TestFragmentCacheRestore(t *testing.T) {
	dir := t.TempDir()
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)

	b, err := New([]DownstreamConfig{node.config()}, nil, Options{
		RegistryID: "bridge-test",
		CacheDir:   dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(context.Background(), InitOptions{
		Budget:       5 * time.Second,
		RetryInitial: 10 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	node.srv.Close()

	// A fresh bridge over the same cache dir merges the cached fragments
	// even though the backend is gone.
	b2, err := New([]DownstreamConfig{node.config()}, nil, Options{
		RegistryID: "bridge-test",
		CacheDir:   dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	var model struct {
		Groups map[string]json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(b2.model(), &model); err != nil {
		t.Fatal(err)
	}
	if _, ok := model.Groups["noderegistries"]; !ok {
		t.Error("cached model fragment not restored")
	}
	if b2.Downstreams()[0].Ready() {
		t.Error("cached fragments must not mark the downstream ready")
	}
}

func TestExportRedirect(t *testing.T) {
	node := newFakeBackend(t, "noderegistries", "npmjs.org", true)
	b := newTestBridge(t, nil, node)
	h := NewHandler(b, RouterOptions{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://bridge.example/export", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("got %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.Contains(loc, "doc") {
		t.Errorf("got location %q", loc)
	}
}
