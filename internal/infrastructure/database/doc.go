// Package database provides the SQLite store behind a meshlink node.
//
// A node keeps very little on disk: whether its broker session exists,
// the task configuration written by the dashboard and the last relay states.
// All of it lives in a single key/value table exposed by KVStore.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after open
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
//	kv := database.NewKVStore(db)
//
// Migrations are named YYYYMMDD_HHMMSS_name.up.sql / .down.sql and are
// applied in version order, one transaction each.
package database
