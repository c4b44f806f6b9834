// Package models defines the persisted records of stemx.
//
//   - [JobRecord] : history of a finished (or running) job with its terminal outcome
//   - [StorageRecord] : last observed remote state of a logical path, mirrored from the remote store
//
// Records are plain structs. Repositories in internal/repositories own their SQL.
package models
