// Package xrbridge holds the entity types shared by the catalog engine and
// the bridge: the xRegistry root document, groups, resources, versions, and
// their meta projections, along with the error domain type.
//
// Entities are synthesised at emit time from upstream metadata; none of the
// types here hold references to each other except for explicit inlining, so
// the registry→group→registry reference cycle exists only as composed
// strings.
package xrbridge

// SpecVersion is the xRegistry specification version emitted by every
// payload this module produces.
const SpecVersion = `1.0-rc2`

// ContentType is the media type for every xRegistry payload.
const ContentType = `application/json; charset=utf-8; schema="xRegistry-json/` + SpecVersion + `"`
