// Package server implements the ride server that ride clients log in to and stream locations through.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with "METHOD /path" patterns, so handlers
// read wildcards such as {session_id} through [http.Request.PathValue].
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
// [API] and [Hub] are the two handlers of the server.
//
// # Rides and Sessions
//
// A [Registry] keeps rides and sessions in memory. Login either creates a ride, making the user its admin, or
// joins one by code. A session survives a dropped socket and ends only on logout.
//
// # Websocket Hub
//
// Each connection runs a read loop in the handler goroutine and a write loop with pings. A client first gets
// initial_state with its ride's riders, then every user_joined, user_left, location_update and riders_update
// for that ride. Location updates from a client are rate limited and broadcast to everyone else in the ride.
// Sockets for unknown sessions are closed with 1008 (policy violation).
//
// # Persistence
//
// A [Recorder] receives rides, sessions and location points. [DBRecorder] writes them to sqlite; failures
// are logged and never reach the client.
package server
