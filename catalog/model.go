package catalog

import (
	"encoding/json"

	"github.com/xregistry/xrbridge"
)

// Model returns the schema fragment for this backend's group and resource
// types.
func (c *Catalog) Model() json.RawMessage {
	o := &c.opts
	m := map[string]any{
		"groups": map[string]any{
			o.GroupType: map[string]any{
				"plural":   o.GroupType,
				"singular": o.GroupSingular,
				"resources": map[string]any{
					o.ResourceType: map[string]any{
						"plural":      o.ResourceType,
						"singular":    o.ResourceSingular,
						"maxversions": 0,
						"hasdocument": false,
					},
				},
			},
		},
	}
	b, _ := json.Marshal(m)
	return b
}

// recognised flags, mirrored in the qparse package.
var capabilityFlags = []string{
	"collections", "doc", "epoch", "filter", "inline", "limit", "noepoch",
	"nodefaultversionid", "nodefaultversionsticky", "noreadonly", "offset",
	"schema", "sort", "specversion",
}

// Capabilities returns the capabilities document for this backend.
func (c *Catalog) Capabilities() json.RawMessage {
	m := map[string]any{
		"apis":         []string{"/capabilities", "/export", "/model"},
		"flags":        capabilityFlags,
		"mutable":      []string{},
		"pagination":   true,
		"schemas":      []string{"xRegistry-json/" + xrbridge.SpecVersion},
		"specversions": []string{xrbridge.SpecVersion},
		"versionmodes": []string{"manual"},
	}
	b, _ := json.Marshal(m)
	return b
}
