// Package history records finished job runs in SQLite.
//
// Every job that leaves a queue (completed, failed, terminated, expired before
// it ran, or failed to spawn) becomes one row in job_runs. The table is an
// audit trail for the `history` control command; it is never read back to
// rebuild queues after a restart.
//
// The schema version lives in PRAGMA user_version. A database stamped with
// another version is refused rather than migrated.
package history
