// Package database provides SQLite connectivity for the Tuya bridge.
//
// The bridge keeps a small local store of every datapoint it has seen
// (device, datapoint id, type, last value, last seen, message count) so the
// configured mapping can be checked against what devices actually send.
//
// This package manages:
//   - Database connection with WAL mode so API reads do not block recording
//   - Schema migrations embedded into the binary
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. Each version has a .up.sql and a .down.sql
// file named YYYYMMDD_HHMMSS_description.
package database
