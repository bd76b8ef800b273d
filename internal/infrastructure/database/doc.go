// Package database provides the SQLite connection behind the journal.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations embedded in the binary
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
package database
