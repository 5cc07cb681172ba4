// Package sqlite contains SQLite repository implementations for alignment
// domain types.
//
// All database read/write operations for runs, corrections, events, and
// calibration snapshots belong here rather than in the control loop
// package. This keeps loop logic free of SQL noise and makes it easier to
// swap storage backends for testing.
package sqlite
