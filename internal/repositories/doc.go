// Package repositories implements SQLite persistence for rides, sessions, and track points.
//
// Rides and sessions implement [models.Repository] with atomic sequence generation for stable ordering.
// Both support soft deletes via deleted_at timestamps and exclude deleted records from queries by default;
// a logged out session is soft deleted so ride history can still name it.
//
// Key Implementations:
//   - [RideRepository] : rides keyed by their short join code
//   - [SessionRepository] : rider sessions, listed per ride
//   - [TrackRepository] : append-only location history per ride and session
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
