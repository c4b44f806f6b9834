// Package repositories implements SQLite persistence for stemx records.
//
// Key Implementations:
//   - [JobRepository] : job history, written when a job starts and again when it reaches a terminal state
//   - [RecordRepository] : mirror of the last observed remote version token, size and URL per logical path
//
// Both take an open [database/sql.DB] with migrations applied (see shared.OpenDatabase).
package repositories
