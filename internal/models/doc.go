// Package models defines domain entities and persistence interfaces for the ridex ride tracker.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): values exchanged with the ride server and between client components
//   - [Location] : a latitude/longitude fix with optional accuracy
//   - [Rider] : a ride participant, local or remote, with its last known [Location]
//   - [Session] : the client's membership token for a ride
//   - [RemoteConfig] : runtime configuration served by GET /api/config
//
// 2. Persistent Entities: database-backed records written by the ride server
//   - [RideRecord] : a ride and the session that created it
//   - [SessionRecord] : a rider's session inside a ride
//   - [TrackPoint] : an accepted location update
//
// Ride and session records implement the [Model] interface providing IDs, timestamps, validation, and soft delete support.
// The [Repository] interface defines standard CRUD operations for database access.
package models
