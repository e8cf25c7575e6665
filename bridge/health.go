package bridge

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/quay/zlog"
)

// HealthReport is the body of the health endpoint. Status is "healthy"
// while at least one downstream is initialized and reachable, "unhealthy"
// otherwise.
type HealthReport struct {
	Status             string             `json:"status"`
	Timestamp          string             `json:"timestamp"`
	Downstreams        []DownstreamHealth `json:"downstreams"`
	ConsolidatedGroups []string           `json:"consolidatedGroups"`
}

// DownstreamHealth is the probe state of one downstream.
type DownstreamHealth struct {
	URL         string   `json:"url"`
	Groups      []string `json:"groups"`
	Healthy     bool     `json:"healthy"`
	Initialized bool     `json:"initialized"`
	LastProbe   string   `json:"lastProbe,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// report assembles the current health view.
func (b *Bridge) report() *HealthReport {
	rep := &HealthReport{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	ready := 0
	groups := make(map[string]bool)
	for _, d := range b.downstreams {
		initialized, healthy, lastProbe, lastErr := d.snapshot()
		dh := DownstreamHealth{
			URL:         d.cfg.URL,
			Healthy:     healthy && initialized,
			Initialized: initialized,
			Error:       lastErr,
		}
		for _, g := range d.cfg.Groups {
			dh.Groups = append(dh.Groups, g.String())
			if initialized && healthy {
				groups[g.Type] = true
			}
		}
		if !lastProbe.IsZero() {
			dh.LastProbe = lastProbe.UTC().Format(time.RFC3339)
		}
		if dh.Healthy {
			ready++
		}
		rep.Downstreams = append(rep.Downstreams, dh)
	}
	for g := range groups {
		rep.ConsolidatedGroups = append(rep.ConsolidatedGroups, g)
	}
	sort.Strings(rep.ConsolidatedGroups)
	// Partial availability is still "healthy"; the per-downstream entries
	// carry the detail.
	if ready > 0 {
		rep.Status = "healthy"
	} else {
		rep.Status = "unhealthy"
	}
	return rep
}

// Health serves the health document: 200 while at least one downstream is
// ready, 503 otherwise.
func (h *HTTP) Health(w http.ResponseWriter, r *http.Request) {
	rep := h.b.report()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if rep.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}
