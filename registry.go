package xrbridge

import "encoding/json"

// Collection is a named child collection of an entity, emitted as the
// "{name}url" / "{name}count" member pair.
type Collection struct {
	Name  string
	URL   string
	Count int
}

// Registry is the root document of an xRegistry service.
//
// Timestamps are RFC 3339 strings; they are produced by the entity state
// manager and emitted verbatim so repeated reads are byte-stable.
type Registry struct {
	SpecVersion     string
	RegistryID      string
	XID             string
	Self            string
	Epoch           uint64
	Name            string
	Description     string
	Docs            string
	CreatedAt       string
	ModifiedAt      string
	CapabilitiesURL string
	ModelURL        string
	Collections     []Collection

	// Inline members, populated only for doc-mode serialization.
	Groups       map[string]map[string]*Group
	Capabilities json.RawMessage
	Model        json.RawMessage
	ModelSource  json.RawMessage
}

// MarshalJSON implements [json.Marshaler].
func (r *Registry) MarshalJSON() ([]byte, error) {
	w := newObjWriter()
	w.Field("specversion", r.SpecVersion)
	w.Field("registryid", r.RegistryID)
	w.Field("xid", r.XID)
	w.Field("self", r.Self)
	if r.Epoch > 0 {
		w.Field("epoch", r.Epoch)
	}
	if r.Name != "" {
		w.Field("name", r.Name)
	}
	if r.Description != "" {
		w.Field("description", r.Description)
	}
	if r.Docs != "" {
		w.Field("docs", r.Docs)
	}
	w.Field("createdat", r.CreatedAt)
	w.Field("modifiedat", r.ModifiedAt)
	if r.CapabilitiesURL != "" {
		w.Field("capabilitiesurl", r.CapabilitiesURL)
	}
	if r.ModelURL != "" {
		w.Field("modelurl", r.ModelURL)
	}
	w.Raw("capabilities", r.Capabilities)
	w.Raw("model", r.Model)
	w.Raw("modelsource", r.ModelSource)
	for _, c := range r.Collections {
		w.Field(c.Name+"url", c.URL)
		w.Field(c.Name+"count", c.Count)
		if g, ok := r.Groups[c.Name]; ok {
			w.Field(c.Name, g)
		}
	}
	return w.Done()
}
