// Package database provides SQLite storage for the motion extractor's run
// history.
//
// Each motion extraction run is recorded when it starts and updated when it
// reaches a terminal phase, so the service can list recent runs after the
// in-memory outputs have been evicted or the process has restarted.
//
// The database uses WAL mode for concurrent readers and creates its schema
// on open.
package database
