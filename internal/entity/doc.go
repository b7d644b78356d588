// Package entity maps logical device names to backend entity references.
//
// The host supplies a binding list (display name → entity). Resolution is a
// fresh scan of the current list on every call; the mapping itself is never
// cached here. The Registry keeps the persisted binding list in memory so a
// scan never touches the database.
//
// # Usage
//
//	reg := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
//	if err := reg.RefreshCache(ctx); err != nil { ... }
//	resolver := entity.NewResolver(reg)
//	ref, ok := resolver.ResolveEntity("CTW_TAG")
package entity
