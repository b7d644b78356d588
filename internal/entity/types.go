package entity

import "strings"

// DefaultEntityType is assumed when a binding does not name one.
const DefaultEntityType = "DEVICE"

// Ref identifies a backend entity. Refs are immutable values.
type Ref struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
}

// IsZero reports whether the reference carries no entity id.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// String renders the reference as TYPE/id for logs.
func (r Ref) String() string {
	return r.EntityType + "/" + r.ID
}

// Binding is one entry of the host's binding list.
type Binding struct {
	Name string `json:"name"`
	Ref  Ref    `json:"ref"`
}

// normalizeRef fills in the default entity type and trims the id.
// An empty id yields the zero Ref.
func normalizeRef(r Ref) Ref {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Ref{}
	}
	typ := strings.TrimSpace(r.EntityType)
	if typ == "" {
		typ = DefaultEntityType
	}
	return Ref{ID: id, EntityType: strings.ToUpper(typ)}
}

// NormalizeName is the comparison form of device and key names:
// trimmed and lower-cased.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
