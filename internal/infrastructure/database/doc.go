// Package database opens the controller's SQLite store and migrates it.
//
// The store holds the lamps seen on the network (so the registry can be
// restored before the first NOTIFY after a restart) and a bounded history
// of their state changes.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. They only add: new columns are
// nullable or defaulted, and nothing is dropped or renamed.
package database
