package xrbridge

// Resource is a catalog item (a package) owned by a group.
type Resource struct {
	// Singular is the singular form of the resource type ("package"),
	// used for the "{singular}id" member.
	Singular    string
	ID          string
	XID         string
	Self        string
	Epoch       uint64
	Name        string
	Description string
	License     string
	Homepage    string
	Repository  string
	CreatedAt   string
	ModifiedAt  string

	MetaURL       string
	VersionsURL   string
	VersionsCount int

	// Inline members, populated on request.
	Meta     *Meta
	Versions map[string]*Version
}

// MarshalJSON implements [json.Marshaler].
func (r *Resource) MarshalJSON() ([]byte, error) {
	w := newObjWriter()
	if r.Singular != "" {
		w.Field(r.Singular+"id", r.ID)
	}
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
	if r.License != "" {
		w.Field("license", r.License)
	}
	if r.Homepage != "" {
		w.Field("homepage", r.Homepage)
	}
	if r.Repository != "" {
		w.Field("repository", r.Repository)
	}
	w.Field("createdat", r.CreatedAt)
	w.Field("modifiedat", r.ModifiedAt)
	if r.MetaURL != "" {
		w.Field("metaurl", r.MetaURL)
	}
	if r.Meta != nil {
		w.Field("meta", r.Meta)
	}
	if r.VersionsURL != "" {
		w.Field("versionsurl", r.VersionsURL)
	}
	w.Field("versionscount", r.VersionsCount)
	if r.Versions != nil {
		w.Field("versions", r.Versions)
	}
	return w.Done()
}
