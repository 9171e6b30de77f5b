// package models defines the data model for the ride tracker
package models

import (
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for all persistent models in the ride tracker.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Location is a single position fix.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"` // metres, when the source reports it
}

// String formats the location as "lat, lng" with five decimals (about a metre).
func (l Location) String() string {
	return fmt.Sprintf("%.5f, %.5f", l.Lat, l.Lng)
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Rider is a participant in a ride. Location is nil until the first fix is known.
type Rider struct {
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	Location  *Location `json:"location"`
	Self      bool      `json:"-"`
}

// HasLocation reports whether a position is known for the rider.
func (r Rider) HasLocation() bool {
	return r.Location != nil
}

// Session is a client's membership token for one ride.
type Session struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	RideID    string `json:"ride_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// Action selects whether login creates a new ride or joins an existing one.
type Action string

const (
	ActionCreate Action = "create"
	ActionJoin   Action = "join"
)

// ParseAction normalizes s into an [Action]. The empty string means create.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate, "":
		return ActionCreate, nil
	case ActionJoin:
		return ActionJoin, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// RemoteConfig is served by the ride server before login.
type RemoteConfig struct {
	GoogleMapsAPIKey string `json:"google_maps_api_key"`
}
