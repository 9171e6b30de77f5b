package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrConfigLoad    = fmt.Errorf("remote configuration unavailable")

	// Session errors
	ErrAuth             = fmt.Errorf("login rejected")
	ErrNotAuthenticated = fmt.Errorf("not logged in")
	ErrSessionActive    = fmt.Errorf("session already active")
	ErrSessionExpired   = fmt.Errorf("session expired")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrRideNotFound     = fmt.Errorf("ride not found")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Map and location errors
	ErrMapLoad     = fmt.Errorf("map failed to load")
	ErrGeolocation = fmt.Errorf("geolocation error")

	// Realtime channel errors
	ErrChannel          = fmt.Errorf("realtime channel error")
	ErrChannelClosed    = fmt.Errorf("realtime channel not open")
	ErrMalformedMessage = fmt.Errorf("malformed message")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
