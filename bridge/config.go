package bridge

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/xregistry/xrbridge"
)

// GroupRef identifies a group namespace a downstream claims: a group type
// and, for partitioned group types, a specific group id.
//
// In configuration a GroupRef is either a bare string ("noderegistries")
// claiming the whole type, or an object {"type": ..., "id": ...}.
type GroupRef struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// UnmarshalJSON implements [json.Unmarshaler].
func (g *GroupRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		g.Type, g.ID = s, ""
		return nil
	}
	type alias GroupRef
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*g = GroupRef(a)
	return nil
}

func (g GroupRef) String() string {
	if g.ID == "" {
		return g.Type
	}
	return g.Type + "/" + g.ID
}

// DownstreamConfig declares one downstream backend.
type DownstreamConfig struct {
	URL    string     `json:"url"`
	Groups []GroupRef `json:"groups"`
	// Timeout overrides the probe client timeout for this downstream,
	// as a duration string ("5s").
	Timeout xrbridge.Duration `json:"timeout,omitempty"`
}

// ParseDownstreams decodes and validates the downstream declaration list,
// rejecting malformed URLs and duplicate group claims.
func ParseDownstreams(b []byte) ([]DownstreamConfig, error) {
	var cfgs []DownstreamConfig
	if err := json.Unmarshal(b, &cfgs); err != nil {
		return nil, fmt.Errorf("bridge: malformed downstream list: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("bridge: downstream list is empty")
	}
	seen := make(map[string]string)
	for i, c := range cfgs {
		u, err := url.Parse(c.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("bridge: downstream %d: invalid url %q", i, c.URL)
		}
		if len(c.Groups) == 0 {
			return nil, fmt.Errorf("bridge: downstream %q declares no groups", c.URL)
		}
		for _, g := range c.Groups {
			if g.Type == "" || strings.ContainsAny(g.Type, "/ ") {
				return nil, fmt.Errorf("bridge: downstream %q: invalid group type %q", c.URL, g.Type)
			}
			key := g.String()
			if prev, ok := seen[key]; ok {
				return nil, fmt.Errorf("bridge: group %q claimed by both %q and %q", key, prev, c.URL)
			}
			seen[key] = c.URL
		}
	}
	return cfgs, nil
}

// LoadDownstreams reads the declaration list from inline JSON or, when
// inline is empty, from the named file.
func LoadDownstreams(inline, file string) ([]DownstreamConfig, error) {
	if inline != "" {
		return ParseDownstreams([]byte(inline))
	}
	if file == "" {
		return nil, fmt.Errorf("bridge: no downstream configuration provided")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("bridge: reading %q: %w", file, err)
	}
	return ParseDownstreams(b)
}
