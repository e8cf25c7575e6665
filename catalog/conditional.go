package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quay/zlog"

	"github.com/xregistry/xrbridge"
)

// entityTag derives the ETag for an entity from its xid and epoch; epochs
// only move when upstream state was observed to change, so the tag is stable
// across identical reads.
func entityTag(xid string, epoch uint64) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%s@%d", xid, epoch))
}

// writeEntity emits an entity with conditional-request handling.
func (h *HTTP) writeEntity(w http.ResponseWriter, r *http.Request, xid string, epoch uint64, v any) {
	etag := entityTag(xid, epoch)
	modified := h.c.state.ModifiedAt(xid).UTC()

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
		// Can't change header or write a different response, because
		// we already started.
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}

// writeJSON emits a non-entity JSON payload (listings, model, capabilities).
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", xrbridge.ContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}
