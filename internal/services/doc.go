// Package services implements [RideService], the HTTP client for the ride server.
//
// # Endpoints
//
//   - GET  /api/config             public client configuration (map API key)
//   - POST /api/login              form: username, action (create|join), ride_id
//   - POST /api/logout             form: session_id
//   - GET  /api/ride/{id}/users    riders of one ride
//   - GET  /ws/{session_id}        realtime channel, see [RideService.WebSocketURL]
//
// When the server is configured with an API token, [NewHTTPClient] wraps the transport
// with an [oauth2.StaticTokenSource] so every request carries the bearer credential.
//
// # Error Handling
//
// Methods wrap sentinel errors from the shared package:
//   - [shared.ErrConfigLoad] : /api/config unreachable or malformed
//   - [shared.ErrAuth] : login rejected, carrying the server's detail message
//   - [shared.ErrRideNotFound] : unknown ride id
//   - [shared.ErrAPIRequest] : any other failed request
package services
