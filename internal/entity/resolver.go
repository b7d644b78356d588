package entity

// BindingSource supplies the host's current binding list.
// A nil or empty list means no bindings are available.
type BindingSource interface {
	Bindings() []Binding
}

// StaticSource is a fixed binding list.
type StaticSource []Binding

// Bindings implements BindingSource.
func (s StaticSource) Bindings() []Binding {
	return s
}

// Resolver resolves device names against a BindingSource.
// It holds no state besides the source; every call rescans the list.
type Resolver struct {
	source BindingSource
}

// NewResolver creates a resolver over source. A nil source resolves nothing.
func NewResolver(source BindingSource) *Resolver {
	return &Resolver{source: source}
}

// ResolveEntity returns the entity bound to deviceName, matched
// case-insensitively after trimming. The boolean is false when no binding
// list is available, nothing matches, or the match has no entity id.
func (r *Resolver) ResolveEntity(deviceName string) (Ref, bool) {
	if r == nil || r.source == nil {
		return Ref{}, false
	}
	return Resolve(r.source.Bindings(), deviceName)
}

// Resolve scans bindings for deviceName. The first binding with a matching
// name and a non-empty entity id wins.
func Resolve(bindings []Binding, deviceName string) (Ref, bool) {
	wanted := NormalizeName(deviceName)
	if wanted == "" {
		return Ref{}, false
	}
	for _, b := range bindings {
		if NormalizeName(b.Name) != wanted {
			continue
		}
		ref := normalizeRef(b.Ref)
		if ref.IsZero() {
			continue
		}
		return ref, true
	}
	return Ref{}, false
}
