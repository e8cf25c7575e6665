package xrbridge

// Version is an immutable snapshot of a resource.
type Version struct {
	// Singular is the singular form of the owning resource type.
	Singular    string
	ResourceID  string
	VersionID   string
	XID         string
	Self        string
	Epoch       uint64
	Name        string
	Description string
	License     string
	// PURL is a package-url synthesised from the owning group's upstream
	// type, when one is known.
	PURL       string
	IsDefault  bool
	CreatedAt  string
	ModifiedAt string
}

// MarshalJSON implements [json.Marshaler].
func (v *Version) MarshalJSON() ([]byte, error) {
	w := newObjWriter()
	if v.Singular != "" {
		w.Field(v.Singular+"id", v.ResourceID)
	}
	w.Field("versionid", v.VersionID)
	w.Field("xid", v.XID)
	w.Field("self", v.Self)
	if v.Epoch > 0 {
		w.Field("epoch", v.Epoch)
	}
	if v.Name != "" {
		w.Field("name", v.Name)
	}
	if v.Description != "" {
		w.Field("description", v.Description)
	}
	if v.License != "" {
		w.Field("license", v.License)
	}
	if v.PURL != "" {
		w.Field("purl", v.PURL)
	}
	if v.IsDefault {
		w.Field("isdefault", true)
	}
	w.Field("createdat", v.CreatedAt)
	w.Field("modifiedat", v.ModifiedAt)
	return w.Done()
}

// Meta is the stripped projection of a resource.
type Meta struct {
	// Singular is the singular form of the owning resource type.
	Singular   string
	ResourceID string
	XID        string
	Self       string
	Epoch      uint64
	ReadOnly   bool
	// Compatibility is always "none" for synthesised resources.
	Compatibility        string
	CreatedAt            string
	ModifiedAt           string
	DefaultVersionID     string
	DefaultVersionURL    string
	DefaultVersionSticky *bool
}

// MarshalJSON implements [json.Marshaler].
func (m *Meta) MarshalJSON() ([]byte, error) {
	w := newObjWriter()
	if m.Singular != "" {
		w.Field(m.Singular+"id", m.ResourceID)
	}
	w.Field("xid", m.XID)
	w.Field("self", m.Self)
	if m.Epoch > 0 {
		w.Field("epoch", m.Epoch)
	}
	w.Field("createdat", m.CreatedAt)
	w.Field("modifiedat", m.ModifiedAt)
	w.Field("readonly", m.ReadOnly)
	if m.Compatibility != "" {
		w.Field("compatibility", m.Compatibility)
	}
	if m.DefaultVersionID != "" {
		w.Field("defaultversionid", m.DefaultVersionID)
	}
	if m.DefaultVersionURL != "" {
		w.Field("defaultversionurl", m.DefaultVersionURL)
	}
	if m.DefaultVersionSticky != nil {
		w.Field("defaultversionsticky", *m.DefaultVersionSticky)
	}
	return w.Done()
}
