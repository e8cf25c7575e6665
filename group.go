package xrbridge

// Group is a logical bucket of resources declared by a backend, e.g. the
// "npmjs.org" instance of the "noderegistries" group type.
type Group struct {
	// Singular is the singular form of the group type, used for the
	// "{singular}id" member. Optional.
	Singular    string
	ID          string
	XID         string
	Self        string
	Epoch       uint64
	Name        string
	Description string
	CreatedAt   string
	ModifiedAt  string
	Collections []Collection

	// Inline resources keyed by collection name, populated on request.
	Resources map[string]map[string]*Resource
}

// MarshalJSON implements [json.Marshaler].
func (g *Group) MarshalJSON() ([]byte, error) {
	w := newObjWriter()
	if g.Singular != "" && g.ID != "" {
		w.Field(g.Singular+"id", g.ID)
	}
	w.Field("xid", g.XID)
	w.Field("self", g.Self)
	if g.Epoch > 0 {
		w.Field("epoch", g.Epoch)
	}
	if g.Name != "" {
		w.Field("name", g.Name)
	}
	if g.Description != "" {
		w.Field("description", g.Description)
	}
	w.Field("createdat", g.CreatedAt)
	w.Field("modifiedat", g.ModifiedAt)
	for _, c := range g.Collections {
		w.Field(c.Name+"url", c.URL)
		w.Field(c.Name+"count", c.Count)
		if rs, ok := g.Resources[c.Name]; ok {
			w.Field(c.Name, rs)
		}
	}
	return w.Done()
}
