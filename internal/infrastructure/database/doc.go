// Package database provides the SQLite store behind the overlay service.
//
// The store holds the device binding list so bindings added at runtime
// survive a restart. Schema changes are embedded SQL files applied in
// version order by Migrate.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
