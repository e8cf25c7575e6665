package xrbridge

import (
	"fmt"
	"strings"
)

// XID composition helpers. An XID is the canonical slash-rooted path of an
// entity; the corresponding "self" URL is always the effective base URL with
// the XID appended.

// RootXID is the xid of the registry root document.
const RootXID = `/`

// GroupXID returns the xid for a group.
func GroupXID(groupType, groupID string) string {
	return "/" + groupType + "/" + groupID
}

// ResourceXID returns the xid for a resource.
func ResourceXID(groupType, groupID, resourceType, resourceID string) string {
	return "/" + groupType + "/" + groupID + "/" + resourceType + "/" + resourceID
}

// VersionXID returns the xid for a version of a resource.
func VersionXID(groupType, groupID, resourceType, resourceID, versionID string) string {
	return ResourceXID(groupType, groupID, resourceType, resourceID) + "/versions/" + versionID
}

// MetaXID returns the xid for a resource's meta projection.
func MetaXID(groupType, groupID, resourceType, resourceID string) string {
	return ResourceXID(groupType, groupID, resourceType, resourceID) + "/meta"
}

// SelfURL composes the absolute "self" URL for an xid under the provided
// effective base URL.
func SelfURL(base, xid string) string {
	base = strings.TrimRight(base, "/")
	if xid == RootXID {
		return base + "/"
	}
	return base + xid
}

// ParseXID splits an xid into its path segments, rejecting malformed input.
func ParseXID(xid string) ([]string, error) {
	if !strings.HasPrefix(xid, "/") {
		return nil, fmt.Errorf("xid %q: missing leading slash", xid)
	}
	if xid == RootXID {
		return nil, nil
	}
	seg := strings.Split(strings.Trim(xid, "/"), "/")
	for _, s := range seg {
		if s == "" {
			return nil, fmt.Errorf("xid %q: empty path segment", xid)
		}
	}
	return seg, nil
}
