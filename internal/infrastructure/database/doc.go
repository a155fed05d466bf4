// Package database provides SQLite connectivity for Fieldlink Core.
//
// It opens the database with WAL mode and foreign keys enabled, pins the
// pool to a single connection (SQLite has one writer), and applies the
// embedded schema migrations from the migrations package.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
